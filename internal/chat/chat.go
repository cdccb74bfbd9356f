// Package chat turns operator requests (commands, free text, button presses
// and file uploads) into ledger operations and transport-neutral responses.
// It never formats transport-specific markup; internal/telegram renders the
// responses.
package chat

import (
	"context"
	"errors"
	"net"
	"slices"

	"housefees/internal/core"
	"housefees/internal/ledger"
)

// Request is one inbound interaction. Exactly one of Command, Text, Callback
// or File is set.
type Request struct {
	UserID int64
	ChatID int64

	// Command is the bot command without the leading slash, lower case.
	Command  string
	Text     string
	Callback string
	File     *File
}

// File is an uploaded document. Fetch downloads its contents on demand so
// uploads outside a restore never hit the network.
type File struct {
	Name  string
	Size  int64
	Fetch func(ctx context.Context) ([]byte, error)
}

// Kind classifies a request for metrics and logs.
func (r Request) Kind() string {
	switch {
	case r.Command != "":
		return "command"
	case r.Callback != "":
		return "callback"
	case r.File != nil:
		return "file"
	default:
		return "text"
	}
}

// Choice is one button; Data comes back as Request.Callback when pressed.
type Choice struct {
	Label string
	Data  string
}

// Attachment is a file sent along with a response.
type Attachment struct {
	Name    string
	Data    []byte
	Caption string
}

// Response is one outbound message.
type Response struct {
	Text    string
	Choices [][]Choice
	// Attachment, when set, is sent as a document with Text as a follow-up.
	Attachment *Attachment
	// Edit replaces the message whose button produced the request instead of
	// sending a new one. Ignored for requests that are not callbacks.
	Edit bool
}

// Deliverer sends an attachment to a chat and reports whether it arrived.
// Reset uses it to get the backup out before zeroing the ledger.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, a Attachment) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, chatID int64, a Attachment) error

func (f DelivererFunc) Deliver(ctx context.Context, chatID int64, a Attachment) error {
	return f(ctx, chatID, a)
}

// Ledger is what the chat layer needs from the ledger service.
type Ledger interface {
	Get(id core.Identity) (core.Unit, error)
	SearchByHouseNumber(n int) []core.Unit
	SearchByName(text string) []core.Unit
	ListByFloorAndBranch(floor, branch int) []core.Unit
	ListByPaidAmount(amount int64, floor int) []core.Unit
	Aggregate() core.Stats
	Branches(floor int) []core.BranchSummary
	UnpaidReport(floor int) (ledger.Report, error)

	ApplyPayment(ctx context.Context, id core.Identity, amount int64) (core.Unit, error)
	Backup(ctx context.Context) (ledger.Backup, error)
	ResetWithBackup(ctx context.Context, sink ledger.BackupSink) ledger.ResetReport
	Restore(ctx context.Context, raw []byte) (int, error)
}

// AllowList reports whether a caller may use the bot.
type AllowList func(userID int64) bool

// NewAllowList permits exactly ids. An empty list permits nobody.
func NewAllowList(ids []int64) AllowList {
	allowed := slices.Clone(ids)
	return func(userID int64) bool {
		return slices.Contains(allowed, userID)
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
