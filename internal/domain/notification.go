package domain

type NotificationType string

const (
	NotifyAssistanceNeeded   NotificationType = "assistance_needed"
	NotifyAssistanceAssigned NotificationType = "assistance_assigned"
	NotifyTransferCompleted  NotificationType = "transfer_completed"
	NotifyIncidentReported   NotificationType = "incident_reported"
	NotifyIncidentCancelled  NotificationType = "incident_cancelled"
)
