package tasks

import (
	"context"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// MigrateAccount copies the account named in the params from the parent
// user into the managed profile. A failed copy is logged and tolerated.
type MigrateAccount struct {
	params   *params.Params
	accounts device.AccountManager
	parentID int
	logger   *slog.Logger
}

func NewMigrateAccount(p *params.Params, accounts device.AccountManager, parentID int, logger *slog.Logger) *MigrateAccount {
	return &MigrateAccount{
		params:   p,
		accounts: accounts,
		parentID: parentID,
		logger:   logger,
	}
}

func (t *MigrateAccount) Name() string    { return NameMigrateAccount }
func (t *MigrateAccount) Step() task.Step { return task.StepProfileSetup }

// Run implements task.Task. userID is the managed profile.
func (t *MigrateAccount) Run(ctx context.Context, userID int, cb task.Callback) {
	account, ok := t.params.AccountToMigrate()
	if !ok {
		cb.OnSuccess(t)
		return
	}
	if err := t.accounts.CopyAccount(ctx, account, t.parentID, userID); err != nil {
		t.logger.Warn("failed to migrate account", "account_type", account.Type, "error", err)
	} else {
		t.logger.Info("account migrated", "account_type", account.Type, "profile", userID)
	}
	cb.OnSuccess(t)
}
