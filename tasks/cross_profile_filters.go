package tasks

import (
	"context"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/task"
)

// FilterError is the closed set of CrossProfileIntentFiltersSetter failures.
type FilterError int

const (
	ErrFilterFailed FilterError = iota + 1
)

func (e FilterError) Error() string {
	if e == ErrFilterFailed {
		return "failed to set cross profile intent filters"
	}
	return "unknown filter error"
}

// Category implements task.Code.
func (e FilterError) Category() task.Category {
	return task.CategoryPolicy
}

// Direction says which way a filter forwards intents.
type Direction int

const (
	ProfileToParent Direction = iota
	ParentToProfile
)

func (d Direction) String() string {
	if d == ParentToProfile {
		return "parent_to_profile"
	}
	return "profile_to_parent"
}

// ForwardingRule is one entry of the cross profile table.
type ForwardingRule struct {
	Direction Direction
	Filter    device.IntentFilter
}

const (
	actionDial          = "android.intent.action.DIAL"
	actionCallButton    = "android.intent.action.CALL_BUTTON"
	actionView          = "android.intent.action.VIEW"
	actionSendTo        = "android.intent.action.SENDTO"
	actionSend          = "android.intent.action.SEND"
	actionSendMultiple  = "android.intent.action.SEND_MULTIPLE"
	actionGetContent    = "android.intent.action.GET_CONTENT"
	actionOpenDocument  = "android.intent.action.OPEN_DOCUMENT"
	actionPick          = "android.intent.action.PICK"
	actionQuickContact  = "com.android.contacts.action.QUICK_CONTACT"
	categoryDefault     = "android.intent.category.DEFAULT"
	categoryBrowsable   = "android.intent.category.BROWSABLE"
	categoryOpenable    = "android.intent.category.OPENABLE"
	contactsContentType = "vnd.android.cursor.item/contact"
)

// DefaultForwardingRules are the rules every managed profile receives.
// Home intents are never forwarded.
var DefaultForwardingRules = []ForwardingRule{
	{ProfileToParent, device.IntentFilter{
		Actions:     []string{actionDial, actionView},
		Categories:  []string{categoryDefault, categoryBrowsable},
		DataSchemes: []string{"tel", "voicemail", "sip"},
	}},
	{ProfileToParent, device.IntentFilter{
		Actions:    []string{actionDial, actionCallButton},
		Categories: []string{categoryDefault},
	}},
	{ProfileToParent, device.IntentFilter{
		Actions:     []string{actionView, actionSendTo},
		Categories:  []string{categoryDefault, categoryBrowsable},
		DataSchemes: []string{"sms", "smsto", "mms", "mmsto"},
	}},
	{ProfileToParent, device.IntentFilter{
		Actions:    []string{actionQuickContact},
		Categories: []string{categoryDefault},
		DataTypes:  []string{contactsContentType},
	}},
	{ParentToProfile, device.IntentFilter{
		Actions:    []string{actionSend, actionSendMultiple},
		Categories: []string{categoryDefault},
		DataTypes:  []string{"*/*"},
	}},
	{ParentToProfile, device.IntentFilter{
		Actions:    []string{actionGetContent, actionOpenDocument},
		Categories: []string{categoryDefault, categoryOpenable},
		DataTypes:  []string{"*/*"},
	}},
	{ParentToProfile, device.IntentFilter{
		Actions:    []string{actionPick},
		Categories: []string{categoryDefault},
		DataTypes:  []string{"*/*"},
	}},
}

// CrossProfileIntentFiltersSetter installs the forwarding rules between a
// managed profile and its parent. Existing filters are cleared first.
type CrossProfileIntentFiltersSetter struct {
	policy   device.PolicyManager
	parentID int
	rules    []ForwardingRule
	logger   *slog.Logger
}

// NewCrossProfileIntentFiltersSetter creates the filter task for a profile
// of parentID using DefaultForwardingRules.
func NewCrossProfileIntentFiltersSetter(policy device.PolicyManager, parentID int, logger *slog.Logger) *CrossProfileIntentFiltersSetter {
	return &CrossProfileIntentFiltersSetter{
		policy:   policy,
		parentID: parentID,
		rules:    DefaultForwardingRules,
		logger:   logger,
	}
}

func (t *CrossProfileIntentFiltersSetter) Name() string    { return NameCrossProfileIntentFilters }
func (t *CrossProfileIntentFiltersSetter) Step() task.Step { return task.StepProfileSetup }

// Run implements task.Task. userID is the managed profile.
func (t *CrossProfileIntentFiltersSetter) Run(ctx context.Context, userID int, cb task.Callback) {
	if err := t.policy.ClearCrossProfileIntentFilters(ctx, userID); err != nil {
		t.logger.Error("failed to clear intent filters", "user", userID, "error", err)
		cb.OnError(t, ErrFilterFailed)
		return
	}

	for i, rule := range t.rules {
		source, target := userID, t.parentID
		if rule.Direction == ParentToProfile {
			source, target = t.parentID, userID
		}
		if err := t.policy.AddCrossProfileIntentFilter(ctx, rule.Filter, source, target); err != nil {
			t.logger.Error("failed to add intent filter",
				"rule", i,
				"direction", rule.Direction.String(),
				"error", err,
			)
			cb.OnError(t, ErrFilterFailed)
			return
		}
	}

	t.logger.Info("cross profile intent filters set", "profile", userID, "parent", t.parentID, "rules", len(t.rules))
	cb.OnSuccess(t)
}
