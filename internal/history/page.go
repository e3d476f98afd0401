package history

import "fmt"

// Page is one page of a history as returned by a paginated poll. Pages are
// newest-first; NextPageToken is empty on the last page.
type Page struct {
	Events        []Event
	NextPageToken string
}

// MergePages concatenates pages into one newest-first history. It fails if
// an event id repeats or the pages are out of order.
func MergePages(pages []Page) ([]Event, error) {
	var (
		out  []Event
		last int64
	)
	for i, p := range pages {
		for _, e := range p.Events {
			if last != 0 && e.ID >= last {
				return nil, fmt.Errorf("page %d: event %s is not older than event %d", i, e, last)
			}
			last = e.ID
			out = append(out, e)
		}
	}
	return out, nil
}
