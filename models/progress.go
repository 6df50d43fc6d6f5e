package models

// ProcessingProgress is the nominal value written when a worker picks a task
// up, before the first stage reports.
const ProcessingProgress = 5

const stageRange = 20

func progressFloor(status TaskStatus) (int, error) {
	switch status {
	case StatusPending:
		return 0, nil
	case StatusProcessing:
		return ProcessingProgress, nil
	case StatusOutlining:
		return 20, nil
	case StatusContentGeneration:
		return 40, nil
	case StatusImageGeneration:
		return 60, nil
	case StatusCompiling:
		return 80, nil
	case StatusCompleted:
		return 100, nil
	case StatusFailed, StatusCancelled:
		return 0, nil
	}
	_, err := status.rank()
	return 0, err
}

// Progress derives the externally visible percentage from status and unit
// counters. For failed and cancelled tasks the floor of the last recorded
// stage is reported. The result is always within [0, 100].
func Progress(status TaskStatus, stage Stage, done, total int) int {
	if status == StatusFailed || status == StatusCancelled {
		if stage == "" {
			return 0
		}
		stageStatus, err := stage.Status()
		if err != nil {
			return 0
		}
		status = stageStatus
	}

	floor, err := progressFloor(status)
	if err != nil {
		return 0
	}

	if (status == StatusContentGeneration || status == StatusImageGeneration) && total > 0 {
		if done < 0 {
			done = 0
		}
		if done > total {
			done = total
		}
		floor += done * stageRange / total
	}

	if floor > 100 {
		return 100
	}
	return floor
}
