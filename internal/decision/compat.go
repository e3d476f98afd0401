package decision

// closePriority ranks workflow-closing decisions; higher wins.
func closePriority(d Decision) int {
	switch d.Type() {
	case TypeFailWorkflow:
		return 3
	case TypeCancelWorkflow:
		return 2
	case TypeCompleteWorkflow:
		return 1
	}
	return 0
}

func schedulesWork(d Decision) bool {
	switch d.Type() {
	case TypeScheduleActivity, TypeScheduleLambda, TypeStartChildWorkflow, TypeScheduleTimer:
		return true
	}
	return false
}

// Compatible makes a batch acceptable to the backend, which rejects any
// decision that follows a workflow-closing one.
//
// Non-closing decisions keep their relative order. At most one closing
// decision survives and is placed last: FailWorkflow beats CancelWorkflow
// beats CompleteWorkflow, and among equals the earliest wins. A
// CompleteWorkflow is dropped entirely when the batch also schedules work.
func Compatible(batch []Decision) []Decision {
	out := make([]Decision, 0, len(batch))
	var closing Decision
	working := false
	for _, d := range batch {
		if p := closePriority(d); p > 0 {
			if closing == nil || p > closePriority(closing) {
				closing = d
			}
			continue
		}
		if schedulesWork(d) {
			working = true
		}
		out = append(out, d)
	}
	if closing == nil {
		return out
	}
	if closing.Type() == TypeCompleteWorkflow && working {
		return out
	}
	return append(out, closing)
}

// Closes reports whether the batch closes the workflow run.
func Closes(batch []Decision) bool {
	for _, d := range batch {
		if closePriority(d) > 0 {
			return true
		}
	}
	return false
}
