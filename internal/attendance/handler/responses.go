package handler

import "dailyroll/internal/attendance/models"

type AttendeesResponse struct {
	Attendees []models.AttendanceRecord `json:"attendees"`
}

type StatsResponse struct {
	Date      string                    `json:"date"`
	Count     int                       `json:"count"`
	Attendees []models.AttendanceRecord `json:"attendees"`
}

func toStatsResponse(stats *models.DailyStats) StatsResponse {
	return StatsResponse{Date: stats.Date, Count: stats.Count, Attendees: stats.Attendees}
}

// SuccessResponse echoes the updated attendee list after a commit.
type SuccessResponse struct {
	Success   bool                      `json:"success"`
	Attendees []models.AttendanceRecord `json:"attendees"`
}

// FailureResponse is the uniform shape for rejections and storage failures.
type FailureResponse struct {
	Success bool               `json:"success"`
	Reason  models.AbortReason `json:"reason"`
	Message string             `json:"message"`
}
