package agentclient

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"insafe-backend/internal/models"
)

// Executor carries out one command and returns its result.
type Executor interface {
	Execute(ctx context.Context, cmd models.Command) (any, error)
}

var simulatedMessages = map[models.CommandType]string{
	models.CommandDisableUSB:              "USB ports disabled",
	models.CommandEnableUSB:               "USB ports enabled",
	models.CommandBlockGit:                "Git commands blocked",
	models.CommandUnblockGit:              "Git commands unblocked",
	models.CommandBlockFileUploads:        "File uploads blocked",
	models.CommandUnblockFileUploads:      "File uploads unblocked",
	models.CommandBlockEmailAttachments:   "Email attachments blocked",
	models.CommandUnblockEmailAttachments: "Email attachments unblocked",
	models.CommandRestartAgent:            "Agent restart requested",
}

// SimulatedExecutor acknowledges every command without touching the host.
type SimulatedExecutor struct {
	Identity models.RegisterRequest
	Logger   zerolog.Logger
}

func (e SimulatedExecutor) Execute(ctx context.Context, cmd models.Command) (any, error) {
	e.Logger.Info().Str("command_id", cmd.ID).Str("type", string(cmd.Type)).Msg("simulating command")

	if cmd.Type == models.CommandGetStatus {
		return statusSnapshot(ctx, e.Identity), nil
	}
	msg, ok := simulatedMessages[cmd.Type]
	if !ok {
		return nil, fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	return map[string]string{
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
