package service

import "presentationGenerator/api/dto"

func taskLinks(taskID string) dto.Links {
	return dto.Links{
		"self":   "/tasks/" + taskID,
		"status": "/tasks/" + taskID + "/status",
	}
}
