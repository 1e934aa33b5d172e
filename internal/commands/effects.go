package commands

import "insafe-backend/internal/models"

var effects = map[models.CommandType]models.BlockingChange{
	models.CommandBlockGit:                {Service: models.ServiceGit, Blocked: true},
	models.CommandUnblockGit:              {Service: models.ServiceGit, Blocked: false},
	models.CommandDisableUSB:              {Service: models.ServiceUSB, Blocked: true},
	models.CommandEnableUSB:               {Service: models.ServiceUSB, Blocked: false},
	models.CommandBlockFileUploads:        {Service: models.ServiceFileUploads, Blocked: true},
	models.CommandUnblockFileUploads:      {Service: models.ServiceFileUploads, Blocked: false},
	models.CommandBlockEmailAttachments:   {Service: models.ServiceEmailAttachments, Blocked: true},
	models.CommandUnblockEmailAttachments: {Service: models.ServiceEmailAttachments, Blocked: false},
}

// Effect returns the blocking change a successfully completed command makes,
// or nil for commands that leave agent state alone (get-status,
// restart-agent) and for anything not completed.
func Effect(cmd models.Command) *models.BlockingChange {
	if cmd.Status != models.CommandCompleted {
		return nil
	}
	change, ok := effects[cmd.Type]
	if !ok {
		return nil
	}
	return &change
}
