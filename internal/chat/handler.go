package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"housefees/internal/core"
	"housefees/internal/ledger"
	applog "housefees/internal/log"
	"housefees/internal/metrics"
	"housefees/internal/middleware/ratelimit"
	"housefees/internal/middleware/trace"
)

// Callback data. Identities use '-' so '_' stays a safe separator.
const (
	cbStart        = "START"
	cbNoop         = "NO"
	cbMainFloor    = "MAIN_FLOOR_"
	cbMainStats    = "MAIN_STATS"
	cbMainSearch   = "MAIN_SEARCH"
	cbBranch       = "BRANCH_"
	cbPay          = "PAY_"
	cbAmount       = "AMOUNT_"
	cbUnpaidFloor  = "STATS_UNPAID_FLOOR"
	cbStatsList    = "STATS_LIST_"
	cbStatsReset   = "STATS_RESET"
	cbStatsConfirm = "STATS_CONFIRM"
	cbUnpaid       = "UNPAID_"

	allFloorsToken = "All"
)

// Commands.
const (
	CmdStart   = "start"
	CmdRestore = "restore"
	CmdCancel  = "cancel"
	CmdBackup  = "backup"
)

const (
	// maxSearchResults caps the unit cards sent for one search.
	maxSearchResults = 20
	maxUploadBytes   = 10 << 20
)

// Handler routes requests. It is safe for concurrent use.
type Handler struct {
	ledger    Ledger
	deliverer Deliverer
	allowed   AllowList
	sessions  *Sessions
	limiter   *ratelimit.Limiter[int64]
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Config wires a Handler. Ledger, Deliverer and Allowed are required.
type Config struct {
	Ledger    Ledger
	Deliverer Deliverer
	Allowed   AllowList
	Sessions  *Sessions
	Limiter   *ratelimit.Limiter[int64]
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Ledger == nil || cfg.Deliverer == nil || cfg.Allowed == nil {
		return nil, errors.New("chat handler needs a ledger, a deliverer and an allow-list")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessions(0)
	}
	return &Handler{
		ledger:    cfg.Ledger,
		deliverer: cfg.Deliverer,
		allowed:   cfg.Allowed,
		sessions:  cfg.Sessions,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		logger:    applog.WithComponent(cfg.Logger, applog.ComponentChat),
	}, nil
}

// Handle processes one request and returns the responses to send, in order.
// An empty result means nothing should be sent.
func (h *Handler) Handle(ctx context.Context, req Request) []Response {
	start := time.Now()
	kind := req.Kind()
	if trace.GetRequestID(ctx) == "" {
		ctx = trace.WithRequestID(ctx, trace.GenerateRequestID())
	}
	logger := h.logger.With(applog.NewFields().
		WithRequestID(trace.GetRequestID(ctx)).
		WithCaller(req.UserID, req.ChatID).
		ToSlice()...)
	ctx = applog.NewContext(ctx, logger)

	if !h.allowed(req.UserID) {
		logger.WarnContext(ctx, "Unauthorized chat request", "kind", kind)
		h.metrics.ObserveChat(kind, metrics.OutcomeDenied, start)
		return h.denied(req)
	}
	if !h.limiter.Allow(req.UserID) {
		logger.WarnContext(ctx, "Chat request rate limited", "kind", kind)
		h.metrics.IncRateLimited()
		h.metrics.ObserveChat(kind, metrics.OutcomeDenied, start)
		return []Response{{Text: "Too many requests. Please wait a minute and try again.", Edit: req.Callback != ""}}
	}

	var out []Response
	switch kind {
	case "command":
		out = h.handleCommand(ctx, req)
	case "callback":
		out = h.handleCallback(ctx, req)
	case "file":
		out = h.handleFile(ctx, req)
	default:
		out = h.handleText(ctx, req)
	}
	h.metrics.ObserveChat(kind, metrics.OutcomeOK, start)
	logger.DebugContext(ctx, "Chat request handled",
		"kind", kind,
		"responses", len(out),
		applog.FieldDuration, time.Since(start).Milliseconds())
	return out
}

// CleanExpired drops expired restore sessions.
func (h *Handler) CleanExpired() int {
	return h.sessions.CleanExpired()
}

// denied answers commands and button presses; text and files from strangers
// are ignored.
func (h *Handler) denied(req Request) []Response {
	switch {
	case req.Command != "":
		return []Response{{Text: "Sorry, you do not have access to this bot."}}
	case req.Callback != "":
		return []Response{{Text: "You are not authorized.", Edit: true}}
	}
	return nil
}

func (h *Handler) handleCommand(ctx context.Context, req Request) []Response {
	logger := applog.FromContext(ctx)
	logger.InfoContext(ctx, "Command received", applog.FieldCommand, req.Command)

	switch req.Command {
	case CmdStart:
		h.sessions.Reset(req.UserID)
		return []Response{mainMenu(false)}
	case CmdRestore:
		h.sessions.AwaitRestoreFile(req.UserID)
		return []Response{{Text: "Restore mode\n\nSend the backup file (.json) you want to restore.\nTo abort, send /cancel."}}
	case CmdCancel:
		if h.sessions.Reset(req.UserID) == StateAwaitingRestoreFile {
			return []Response{{Text: "Restore cancelled."}}
		}
		return []Response{{Text: "Nothing to cancel."}}
	case CmdBackup:
		return h.backup(ctx)
	}
	return []Response{{Text: "Unknown command. Use /start to open the menu, /backup to download the data, /restore to load a backup."}}
}

func (h *Handler) handleText(ctx context.Context, req Request) []Response {
	if h.sessions.State(req.UserID) == StateAwaitingRestoreFile {
		return []Response{{Text: "You are in restore mode. Send the backup .json file, or /cancel to abort."}}
	}
	term := strings.TrimSpace(req.Text)
	if term == "" {
		return nil
	}
	return h.search(ctx, term)
}

func (h *Handler) handleCallback(ctx context.Context, req Request) []Response {
	h.sessions.Reset(req.UserID)
	data := req.Callback
	applog.FromContext(ctx).DebugContext(ctx, "Button pressed", applog.FieldAction, data)

	switch {
	case data == cbStart:
		return []Response{mainMenu(true)}
	case data == cbNoop:
		return nil
	case data == cbMainStats:
		return []Response{h.statsMenu()}
	case data == cbMainSearch:
		return []Response{{Text: "Send a house number (digits only) or part of the owner's name.", Edit: true}}
	case data == cbUnpaidFloor:
		return []Response{unpaidFloorMenu()}
	case data == cbStatsReset:
		return []Response{resetConfirmation()}
	case data == cbStatsConfirm:
		return h.reset(ctx, req.ChatID)
	case strings.HasPrefix(data, cbMainFloor):
		return h.floorMenu(strings.TrimPrefix(data, cbMainFloor))
	case strings.HasPrefix(data, cbBranch):
		return h.branchUnits(strings.TrimPrefix(data, cbBranch))
	case strings.HasPrefix(data, cbPay):
		return h.paymentPrompt(strings.TrimPrefix(data, cbPay))
	case strings.HasPrefix(data, cbAmount):
		return h.recordPayment(ctx, strings.TrimPrefix(data, cbAmount))
	case strings.HasPrefix(data, cbStatsList):
		return h.listByAmount(strings.TrimPrefix(data, cbStatsList))
	case strings.HasPrefix(data, cbUnpaid):
		return h.unpaidReport(ctx, strings.TrimPrefix(data, cbUnpaid))
	}
	applog.FromContext(ctx).WarnContext(ctx, "Unknown callback data", applog.FieldAction, data)
	return []Response{{Text: "This button is no longer supported. Use /start.", Edit: true}}
}

func (h *Handler) handleFile(ctx context.Context, req Request) []Response {
	if h.sessions.Reset(req.UserID) != StateAwaitingRestoreFile {
		return []Response{{Text: "To restore data from a backup, send /restore first."}}
	}
	return h.restore(ctx, req.File)
}

func (h *Handler) search(ctx context.Context, term string) []Response {
	var units []core.Unit
	if digits, ok := asciiDigits(term); ok {
		n, err := strconv.Atoi(digits)
		if err == nil {
			units = h.ledger.SearchByHouseNumber(n)
		}
	} else {
		units = h.ledger.SearchByName(term)
	}
	applog.FromContext(ctx).InfoContext(ctx, "Search",
		applog.FieldOperation, applog.OpSearch,
		"results", len(units))

	if len(units) == 0 {
		return []Response{{Text: fmt.Sprintf("No house found for number/name: %s", term)}}
	}
	out := make([]Response, 0, min(len(units), maxSearchResults)+1)
	for i, u := range units {
		if i == maxSearchResults {
			out = append(out, Response{Text: fmt.Sprintf("Showing %d of %d matches. Refine the search to see the rest.", maxSearchResults, len(units))})
			break
		}
		out = append(out, Response{
			Text:    searchResult(term, u),
			Choices: [][]Choice{{{Label: "Record a new payment", Data: cbPay + u.Identity().String()}}},
		})
	}
	return out
}

func (h *Handler) floorMenu(arg string) []Response {
	floor, err := strconv.Atoi(arg)
	if err != nil || !core.KnownFloor(floor) {
		return []Response{{Text: "Unknown floor.", Edit: true, Choices: backToMain()}}
	}
	var rows [][]Choice
	for _, b := range h.ledger.Branches(floor) {
		rows = append(rows, []Choice{{
			Label: fmt.Sprintf("Branch %d (%d units)", b.Branch, b.Units),
			Data:  fmt.Sprintf("%s%d_%d", cbBranch, floor, b.Branch),
		}})
	}
	rows = append(rows, backToMain()...)
	return []Response{{
		Text:    fmt.Sprintf("%s\nChoose a branch:", core.FloorName(floor)),
		Choices: rows,
		Edit:    true,
	}}
}

func (h *Handler) branchUnits(arg string) []Response {
	f, b, ok := strings.Cut(arg, "_")
	floor, ferr := strconv.Atoi(f)
	branch, berr := strconv.Atoi(b)
	if !ok || ferr != nil || berr != nil {
		return []Response{{Text: "Unknown branch.", Edit: true, Choices: backToMain()}}
	}
	units := h.ledger.ListByFloorAndBranch(floor, branch)
	if len(units) == 0 {
		return []Response{{Text: fmt.Sprintf("No houses on %s, branch %d.", core.FloorName(floor), branch), Edit: true, Choices: backToMain()}}
	}

	out := make([]Response, 0, len(units)+2)
	out = append(out, Response{Text: fmt.Sprintf("Houses of branch %d on %s:", branch, core.FloorName(floor)), Edit: true})
	for _, u := range units {
		out = append(out, Response{
			Text:    unitCard(u),
			Choices: [][]Choice{{{Label: "Record a new payment", Data: cbPay + u.Identity().String()}}},
		})
	}
	out = append(out, Response{
		Text:    "End of list.",
		Choices: [][]Choice{{{Label: "Back to branches", Data: fmt.Sprintf("%s%d", cbMainFloor, floor)}}},
	})
	return out
}

func (h *Handler) paymentPrompt(arg string) []Response {
	u, err := h.lookup(arg)
	if err != nil {
		return []Response{{Text: "Error: house not found.", Edit: true, Choices: backToMain()}}
	}
	id := u.Identity().String()
	var buttons []Choice
	for _, amount := range core.PaymentAmounts {
		buttons = append(buttons, Choice{
			Label: core.FormatMoney(amount),
			Data:  fmt.Sprintf("%s%s_%d", cbAmount, id, amount),
		})
	}
	split := min(3, len(buttons))
	rows := [][]Choice{buttons[:split], buttons[split:]}
	rows = append(rows, backToMain()...)
	return []Response{{
		Text: fmt.Sprintf("Record a payment for house %d (%s)\nAlready paid: %s\nChoose the amount to add:",
			u.HouseNumber, ownerLabel(u), core.FormatMoney(u.PaidAmount)),
		Choices: rows,
		Edit:    true,
	}}
}

func (h *Handler) recordPayment(ctx context.Context, arg string) []Response {
	idStr, amountStr, ok := strings.Cut(arg, "_")
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if !ok || err != nil {
		return []Response{{Text: "Error: invalid amount.", Edit: true, Choices: backToMain()}}
	}
	if _, _, err := core.ParseIdentity(idStr); err != nil {
		return []Response{{Text: "Error: house not found.", Edit: true, Choices: backToMain()}}
	}

	u, err := h.ledger.ApplyPayment(ctx, core.Identity(idStr), amount)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return []Response{{Text: "Error: house not found.", Edit: true, Choices: backToMain()}}
	case errors.Is(err, core.ErrInvalidAmount):
		return []Response{{Text: "Error: invalid amount.", Edit: true, Choices: backToMain()}}
	case err != nil && !errors.Is(err, core.ErrPersistence):
		applog.FromContext(ctx).ErrorContext(ctx, "Payment failed", applog.FieldError, err)
		return []Response{{Text: "Unexpected error while recording the payment. It has been logged.", Edit: true, Choices: backToMain()}}
	}

	text := paymentReceipt(u, amount)
	if err != nil {
		text += "\n\nWarning: the payment is recorded but could not be saved to disk. It will be saved with the next change."
	}
	return []Response{{Text: text, Edit: true, Choices: backToMain()}}
}

func (h *Handler) statsMenu() Response {
	st := h.ledger.Aggregate()
	rows := [][]Choice{
		{{Label: "Unpaid houses (file)", Data: cbUnpaidFloor}},
	}
	for _, amount := range core.PaymentAmounts {
		rows = append(rows, []Choice{{
			Label: "Payers of " + core.FormatMoney(amount),
			Data:  fmt.Sprintf("%s%d_%s", cbStatsList, amount, allFloorsToken),
		}})
	}
	rows = append(rows,
		[]Choice{{Label: "Reset fees for next month", Data: cbStatsReset}},
		[]Choice{{Label: "Restore a backup (use /restore)", Data: cbNoop}},
	)
	rows = append(rows, backToMain()...)
	return Response{
		Text: fmt.Sprintf("Monthly fee statistics\n\nHouses: %d\nFully paid: %d\nTotal collected: %s",
			st.Units, st.FullyPaid, core.FormatMoney(st.TotalCollected)),
		Choices: rows,
		Edit:    true,
	}
}

func (h *Handler) listByAmount(arg string) []Response {
	amountStr, floorStr, ok := strings.Cut(arg, "_")
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if !ok || err != nil {
		return []Response{{Text: "Error: invalid amount.", Edit: true, Choices: backToStats()}}
	}
	floor := core.AllFloors
	if floorStr != allFloorsToken {
		floor, err = strconv.Atoi(floorStr)
		if err != nil || !core.KnownFloor(floor) {
			return []Response{{Text: "Unknown floor.", Edit: true, Choices: backToStats()}}
		}
	}

	units := h.ledger.ListByPaidAmount(amount, floor)
	var b strings.Builder
	fmt.Fprintf(&b, "Houses that paid %s on %s:\n\n", core.FormatMoney(amount), core.FloorName(floor))
	if len(units) == 0 {
		b.WriteString("No houses match right now.")
	}
	for i, u := range units {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d (floor %d) - %s (%s)", u.HouseNumber, u.Floor, ownerLabel(u), core.FormatMoney(u.PaidAmount))
	}
	return []Response{{Text: b.String(), Edit: true, Choices: backToStats()}}
}

func (h *Handler) unpaidReport(ctx context.Context, arg string) []Response {
	floor, err := strconv.Atoi(arg)
	if err != nil {
		return []Response{{Text: "Error: unknown floor.", Edit: true, Choices: backToStats()}}
	}
	report, err := h.ledger.UnpaidReport(floor)
	if err != nil {
		return []Response{{Text: "Error: unknown floor.", Edit: true, Choices: backToStats()}}
	}
	applog.FromContext(ctx).InfoContext(ctx, "Unpaid report generated",
		applog.FieldOperation, applog.OpReport,
		applog.FieldFloor, floor,
		applog.FieldUnits, report.Count)

	name := core.FloorName(floor)
	if report.Count == 0 {
		return []Response{{Text: fmt.Sprintf("No unpaid houses on %s.", name), Edit: true, Choices: backToStats()}}
	}
	return []Response{{
		Text: fmt.Sprintf("Sent the unpaid houses of %s as %s.", name, report.Name),
		Attachment: &Attachment{
			Name:    report.Name,
			Data:    report.Body,
			Caption: fmt.Sprintf("Unpaid houses on %s (%d).", name, report.Count),
		},
		Edit:    true,
		Choices: backToStats(),
	}}
}

func (h *Handler) backup(ctx context.Context) []Response {
	b, err := h.ledger.Backup(ctx)
	if len(b.Data) == 0 {
		applog.FromContext(ctx).ErrorContext(ctx, "Backup failed", applog.FieldError, err)
		return []Response{{Text: "Backup failed: the data could not be serialized."}}
	}
	text := fmt.Sprintf("Backup of %d records attached.", b.Units)
	if err != nil {
		text += "\nWarning: the data file on the server could not be updated."
	}
	return []Response{{
		Text:       text,
		Attachment: &Attachment{Name: b.Name, Data: b.Data, Caption: "Data backup."},
	}}
}

func (h *Handler) reset(ctx context.Context, chatID int64) []Response {
	sink := ledger.SinkFunc(func(ctx context.Context, b ledger.Backup) error {
		return h.deliverer.Deliver(ctx, chatID, Attachment{
			Name:    b.Name,
			Data:    b.Data,
			Caption: "Data backup taken before the reset.",
		})
	})
	report := h.ledger.ResetWithBackup(ctx, sink)
	applog.FromContext(ctx).InfoContext(ctx, "Fees reset",
		applog.FieldOperation, applog.OpReset,
		applog.FieldUnits, report.Units,
		"backup_safe", report.BackupSafe())

	return []Response{{Text: resetSummary(report), Edit: true, Choices: backToMain()}}
}

func (h *Handler) restore(ctx context.Context, f *File) []Response {
	logger := applog.FromContext(ctx)
	if f == nil || !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
		return []Response{{Text: "Restore failed: the file must be a JSON backup (ending in .json)."}}
	}
	if f.Size > maxUploadBytes {
		return []Response{{Text: "Restore failed: the file is too large to be a backup of this bot."}}
	}

	raw, err := f.Fetch(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Backup download failed",
			applog.FieldFileName, f.Name,
			applog.FieldError, err)
		if IsTimeout(err) {
			return []Response{{Text: "Restore failed: the download timed out. Please try again with /restore."}}
		}
		return []Response{{Text: "Restore failed: the file could not be downloaded. Please try again with /restore."}}
	}

	n, err := h.ledger.Restore(ctx, raw)
	switch {
	case errors.Is(err, core.ErrInvalidFormat):
		logger.WarnContext(ctx, "Rejected restore file",
			applog.FieldFileName, f.Name,
			applog.FieldError, err)
		return []Response{{Text: fmt.Sprintf("Restore failed: %s is not a valid backup of this bot.\n(%v)\nThe current data is unchanged.", f.Name, err)}}
	case err != nil && !errors.Is(err, core.ErrPersistence):
		logger.ErrorContext(ctx, "Restore failed", applog.FieldError, err)
		return []Response{{Text: "Unexpected error while restoring. The problem has been logged."}}
	}

	logger.InfoContext(ctx, "Ledger restored from upload",
		applog.FieldOperation, applog.OpRestore,
		applog.FieldFileName, f.Name,
		applog.FieldUnits, n)
	text := fmt.Sprintf("Data restored.\n\nLoaded %d records from %s.", n, f.Name)
	if err != nil {
		text += "\nWarning: the restored data could not be saved to disk."
	}
	return []Response{{Text: text}}
}

func (h *Handler) lookup(id string) (core.Unit, error) {
	if _, _, err := core.ParseIdentity(id); err != nil {
		return core.Unit{}, err
	}
	return h.ledger.Get(core.Identity(id))
}

// asciiDigits reports whether s is made only of decimal digits in any
// script (Arabic-Indic, Persian, ...) and returns them as ASCII digits.
func asciiDigits(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return "", false
		}
		b.WriteByte(byte('0' + digitValue(r)))
	}
	return b.String(), true
}

// digitValue relies on every Unicode decimal digit block running 0 to 9 in
// consecutive code points.
func digitValue(r rune) int {
	n := 0
	for unicode.IsDigit(r - rune(n) - 1) {
		n++
	}
	return n % 10
}
