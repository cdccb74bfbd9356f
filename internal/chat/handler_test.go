package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"housefees/internal/core"
	"housefees/internal/ledger"
	"housefees/internal/metrics"
	"housefees/internal/middleware/ratelimit"
	"housefees/internal/seed"
	"housefees/internal/services"
	"housefees/internal/storage"
)

const (
	operator int64 = 100
	stranger int64 = 999
	chatID   int64 = 555
)

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []Attachment
	err  error
}

func (d *fakeDeliverer) Deliver(_ context.Context, _ int64, a Attachment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, a)
	return nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fixture struct {
	h       *Handler
	svc     *services.LedgerService
	del     *fakeDeliverer
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewStore(storage.NewMemoryStore(), logger)
	_, err := store.Bootstrap(context.Background(), seed.New(
		seed.Row{HouseNumber: 5, OwnerName: "Ali", Floor: 1, Branch: 1},
		seed.Row{HouseNumber: 3, OwnerName: "Zainab Hassan", PhoneNumber: "07701234567", Floor: 1, Branch: 1},
		seed.Row{HouseNumber: 12, OwnerName: "Omar", Floor: 1, Branch: 2},
		seed.Row{HouseNumber: 12, OwnerName: "Huda", Floor: 2, Branch: 2},
		seed.Row{HouseNumber: 7, OwnerName: "ali kadhim", Floor: 2, Branch: 1},
	))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	svc := services.NewLedgerService(store, logger, services.WithMetrics(m))
	del := &fakeDeliverer{}
	h, err := NewHandler(Config{
		Ledger:    svc,
		Deliverer: del,
		Allowed:   NewAllowList([]int64{operator}),
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &fixture{h: h, svc: svc, del: del, metrics: m}
}

func (f *fixture) send(req Request) []Response {
	if req.UserID == 0 {
		req.UserID = operator
	}
	req.ChatID = chatID
	return f.h.Handle(context.Background(), req)
}

func callbacks(r Response) []string {
	var out []string
	for _, row := range r.Choices {
		for _, c := range row {
			out = append(out, c.Data)
		}
	}
	return out
}

func hasCallback(r Response, data string) bool {
	for _, d := range callbacks(r) {
		if d == data {
			return true
		}
	}
	return false
}

func jsonFile(name string, data []byte) *File {
	return &File{
		Name:  name,
		Size:  int64(len(data)),
		Fetch: func(context.Context) ([]byte, error) { return data, nil },
	}
}

func TestNewHandlerRequiresCollaborators(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnauthorizedCallers(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		req   Request
		reply bool
	}{
		{name: "command", req: Request{Command: CmdStart}, reply: true},
		{name: "callback", req: Request{Callback: cbMainStats}, reply: true},
		{name: "text", req: Request{Text: "Ali"}},
		{name: "file", req: Request{File: jsonFile("x.json", []byte("{}"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserID = stranger
			out := f.send(tt.req)
			if tt.reply != (len(out) == 1) {
				t.Fatalf("responses = %+v", out)
			}
		})
	}
	if v := testutil.ToFloat64(f.metrics.ChatRequests.WithLabelValues("command", metrics.OutcomeDenied)); v != 1 {
		t.Fatalf("denied commands = %v", v)
	}
	if f.svc.Aggregate().TotalCollected != 0 {
		t.Fatal("strangers must not change the ledger")
	}
}

func TestStartShowsMainMenu(t *testing.T) {
	f := newFixture(t)
	out := f.send(Request{Command: CmdStart})
	if len(out) != 1 || out[0].Edit {
		t.Fatalf("responses = %+v", out)
	}
	for _, want := range []string{"MAIN_FLOOR_1", "MAIN_FLOOR_2", cbMainSearch, cbMainStats} {
		if !hasCallback(out[0], want) {
			t.Fatalf("main menu lacks %s: %v", want, callbacks(out[0]))
		}
	}
}

func TestFloorAndBranchBrowsing(t *testing.T) {
	f := newFixture(t)

	out := f.send(Request{Callback: "MAIN_FLOOR_1"})
	if len(out) != 1 || !out[0].Edit {
		t.Fatalf("floor menu = %+v", out)
	}
	if !hasCallback(out[0], "BRANCH_1_1") || !hasCallback(out[0], "BRANCH_1_2") {
		t.Fatalf("branches = %v", callbacks(out[0]))
	}
	if !strings.Contains(out[0].Choices[0][0].Label, "2 units") {
		t.Fatalf("branch label %q", out[0].Choices[0][0].Label)
	}

	out = f.send(Request{Callback: "BRANCH_1_1"})
	if len(out) != 4 {
		t.Fatalf("expected header, 2 cards, footer; got %d", len(out))
	}
	if !strings.Contains(out[1].Text, "House 3") || !hasCallback(out[1], "PAY_1-3") {
		t.Fatalf("cards should be sorted by house number: %+v", out[1])
	}
	if !hasCallback(out[3], "MAIN_FLOOR_1") {
		t.Fatalf("footer should link back to the floor: %v", callbacks(out[3]))
	}

	out = f.send(Request{Callback: "MAIN_FLOOR_9"})
	if !strings.Contains(out[0].Text, "Unknown floor") {
		t.Fatalf("unknown floor: %+v", out)
	}
}

func TestPaymentFlow(t *testing.T) {
	f := newFixture(t)

	out := f.send(Request{Callback: "PAY_1-5"})
	if len(out) != 1 || !hasCallback(out[0], "AMOUNT_1-5_5000") || !hasCallback(out[0], "AMOUNT_1-5_25000") {
		t.Fatalf("payment prompt = %+v", out)
	}
	if len(out[0].Choices[0]) != 3 || len(out[0].Choices[1]) != 2 {
		t.Fatalf("amount rows = %v", out[0].Choices)
	}

	f.send(Request{Callback: "AMOUNT_1-5_10000"})
	out = f.send(Request{Callback: "AMOUNT_1-5_20000"})
	if !strings.Contains(out[0].Text, "30,000 IQD") || !strings.Contains(out[0].Text, "Fully paid") {
		t.Fatalf("receipt = %q", out[0].Text)
	}
	u, _ := f.svc.Get("1-5")
	if u.PaidAmount != 30000 {
		t.Fatalf("paid = %d", u.PaidAmount)
	}
}

func TestPaymentErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		data string
		want string
	}{
		{data: "PAY_9-9", want: "not found"},
		{data: "PAY_garbage", want: "not found"},
		{data: "AMOUNT_9-9_5000", want: "not found"},
		{data: "AMOUNT_1-5_7000", want: "invalid amount"},
		{data: "AMOUNT_1-5_abc", want: "invalid amount"},
		{data: "AMOUNT_1-5", want: "invalid amount"},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			out := f.send(Request{Callback: tt.data})
			if len(out) != 1 || !strings.Contains(out[0].Text, tt.want) {
				t.Fatalf("responses = %+v", out)
			}
		})
	}
	if f.svc.Aggregate().TotalCollected != 0 {
		t.Fatal("failed payments changed the ledger")
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		term string
		ids  []string
	}{
		{term: "12", ids: []string{"PAY_1-12", "PAY_2-12"}},
		{term: "١٢", ids: []string{"PAY_1-12", "PAY_2-12"}},
		{term: "۱۲", ids: []string{"PAY_1-12", "PAY_2-12"}},
		{term: "٥", ids: []string{"PAY_1-5"}},
		{term: "ALI", ids: []string{"PAY_1-5", "PAY_2-7"}},
		{term: " zainab ", ids: []string{"PAY_1-3"}},
		{term: "nobody", ids: nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			out := f.send(Request{Text: tt.term})
			if tt.ids == nil {
				if len(out) != 1 || !strings.Contains(out[0].Text, "No house found") {
					t.Fatalf("responses = %+v", out)
				}
				return
			}
			if len(out) != len(tt.ids) {
				t.Fatalf("got %d results, want %d", len(out), len(tt.ids))
			}
			for i, id := range tt.ids {
				if !hasCallback(out[i], id) {
					t.Fatalf("result %d = %v, want %s", i, callbacks(out[i]), id)
				}
			}
		})
	}

	out := f.send(Request{Text: "3"})
	if !strings.Contains(out[0].Text, "07701234567") {
		t.Fatalf("search card should show phone: %q", out[0].Text)
	}
}

func TestASCIIDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "0123456789", want: "0123456789", ok: true},
		{in: "٠١٢٣٤٥٦٧٨٩", want: "0123456789", ok: true},
		{in: "۰۱۲۳۴۵۶۷۸۹", want: "0123456789", ok: true},
		{in: "1٢", want: "12", ok: true},
		{in: "12a", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := asciiDigits(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("asciiDigits(%q) = %q, %v", tt.in, got, ok)
			}
		})
	}
}

func TestStatsMenuAndListByAmount(t *testing.T) {
	f := newFixture(t)
	f.send(Request{Callback: "AMOUNT_2-12_5000"})
	f.send(Request{Callback: "AMOUNT_1-12_5000"})

	out := f.send(Request{Callback: cbMainStats})
	if !strings.Contains(out[0].Text, "Houses: 5") || !strings.Contains(out[0].Text, "10,000 IQD") {
		t.Fatalf("stats = %q", out[0].Text)
	}
	for _, want := range []string{cbUnpaidFloor, "STATS_LIST_5000_All", "STATS_LIST_25000_All", cbStatsReset, cbStart} {
		if !hasCallback(out[0], want) {
			t.Fatalf("stats menu lacks %s", want)
		}
	}

	out = f.send(Request{Callback: "STATS_LIST_5000_All"})
	if !strings.Contains(out[0].Text, "12 (floor 1) - Omar") || !strings.Contains(out[0].Text, "12 (floor 2) - Huda") {
		t.Fatalf("list = %q", out[0].Text)
	}
	out = f.send(Request{Callback: "STATS_LIST_5000_2"})
	if strings.Contains(out[0].Text, "Omar") || !strings.Contains(out[0].Text, "Huda") {
		t.Fatalf("floor filter ignored: %q", out[0].Text)
	}
	out = f.send(Request{Callback: "STATS_LIST_20000_All"})
	if !strings.Contains(out[0].Text, "No houses match") {
		t.Fatalf("empty list = %q", out[0].Text)
	}
	if out := f.send(Request{Callback: cbNoop}); len(out) != 0 {
		t.Fatalf("noop should send nothing: %+v", out)
	}
}

func TestUnpaidReport(t *testing.T) {
	f := newFixture(t)
	out := f.send(Request{Callback: cbUnpaidFloor})
	if !hasCallback(out[0], "UNPAID_1") || !hasCallback(out[0], "UNPAID_2") {
		t.Fatalf("floor prompt = %v", callbacks(out[0]))
	}

	out = f.send(Request{Callback: "UNPAID_1"})
	a := out[0].Attachment
	if a == nil || a.Name != "unpaid_floor_1.txt" {
		t.Fatalf("attachment = %+v", a)
	}
	if !strings.Contains(string(a.Data), "Zainab Hassan") || strings.Contains(string(a.Data), "Huda") {
		t.Fatalf("report body = %s", a.Data)
	}

	for _, id := range []string{"2-12", "2-7"} {
		f.send(Request{Callback: "AMOUNT_" + id + "_25000"})
	}
	out = f.send(Request{Callback: "UNPAID_2"})
	if out[0].Attachment != nil || !strings.Contains(out[0].Text, "No unpaid houses") {
		t.Fatalf("fully paid floor = %+v", out[0])
	}
	out = f.send(Request{Callback: "UNPAID_7"})
	if !strings.Contains(out[0].Text, "unknown floor") {
		t.Fatalf("unknown floor = %+v", out[0])
	}
}

func TestResetDeliversBackupFirst(t *testing.T) {
	f := newFixture(t)
	f.send(Request{Callback: "AMOUNT_1-5_25000"})

	out := f.send(Request{Callback: cbStatsReset})
	if !hasCallback(out[0], cbStatsConfirm) {
		t.Fatalf("confirmation = %v", callbacks(out[0]))
	}
	if f.svc.Aggregate().TotalCollected == 0 {
		t.Fatal("asking for confirmation must not reset")
	}

	out = f.send(Request{Callback: cbStatsConfirm})
	if len(f.del.sent) != 1 || !strings.HasPrefix(f.del.sent[0].Name, "Backup_Housing_Data_") {
		t.Fatalf("backup not delivered: %+v", f.del.sent)
	}
	if !strings.Contains(string(f.del.sent[0].Data), `"paid_amount": 25000`) {
		t.Fatalf("backup should hold pre-reset data: %s", f.del.sent[0].Data)
	}
	if !strings.Contains(out[0].Text, "Backup sent") || !strings.Contains(out[0].Text, "5 houses") {
		t.Fatalf("summary = %q", out[0].Text)
	}
	if f.svc.Aggregate().TotalCollected != 0 {
		t.Fatal("ledger not reset")
	}
}

func TestResetProceedsWhenDeliveryFails(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: timeoutErr{}, want: "timed out"},
		{name: "other", err: errors.New("chat not found"), want: "could not be sent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.send(Request{Callback: "AMOUNT_1-5_25000"})
			f.del.err = tt.err

			out := f.send(Request{Callback: cbStatsConfirm})
			if !strings.Contains(out[0].Text, tt.want) || !strings.Contains(out[0].Text, "Fees reset") {
				t.Fatalf("summary = %q", out[0].Text)
			}
			if f.svc.Aggregate().TotalCollected != 0 {
				t.Fatal("reset must proceed after a delivery failure")
			}
		})
	}
}

func TestBackupCommand(t *testing.T) {
	f := newFixture(t)
	out := f.send(Request{Command: CmdBackup})
	if len(out) != 1 || out[0].Attachment == nil {
		t.Fatalf("responses = %+v", out)
	}
	if !strings.HasSuffix(out[0].Attachment.Name, ".json") || !strings.Contains(out[0].Text, "5 records") {
		t.Fatalf("backup response = %+v", out[0])
	}
}

func TestRestoreSession(t *testing.T) {
	f := newFixture(t)
	f.send(Request{Callback: "AMOUNT_1-5_15000"})
	backup := f.send(Request{Command: CmdBackup})[0].Attachment.Data
	f.send(Request{Callback: "AMOUNT_1-3_5000"})

	out := f.send(Request{Command: CmdRestore})
	if !strings.Contains(out[0].Text, "Restore mode") {
		t.Fatalf("restore prompt = %q", out[0].Text)
	}
	if f.h.sessions.State(operator) != StateAwaitingRestoreFile {
		t.Fatal("session should await a file")
	}

	out = f.send(Request{Text: "Ali"})
	if !strings.Contains(out[0].Text, "restore mode") {
		t.Fatalf("search should be suppressed: %q", out[0].Text)
	}

	out = f.send(Request{File: jsonFile("backup.JSON", backup)})
	if !strings.Contains(out[0].Text, "Loaded 5 records") {
		t.Fatalf("restore reply = %q", out[0].Text)
	}
	if f.h.sessions.State(operator) != StateIdle {
		t.Fatal("session should be idle after a file")
	}
	if u, _ := f.svc.Get("1-3"); u.PaidAmount != 0 {
		t.Fatalf("restore should drop later payments, paid=%d", u.PaidAmount)
	}
	if u, _ := f.svc.Get("1-5"); u.PaidAmount != 15000 {
		t.Fatalf("restore lost backed-up payment, paid=%d", u.PaidAmount)
	}
}

func TestRestoreRejections(t *testing.T) {
	downloadFailed := &File{Name: "b.json", Fetch: func(context.Context) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}}
	tests := []struct {
		name string
		file *File
		want string
	}{
		{name: "wrong extension", file: jsonFile("backup.txt", []byte("{}")), want: "must be a JSON backup"},
		{name: "too large", file: &File{Name: "b.json", Size: maxUploadBytes + 1}, want: "too large"},
		{name: "garbage", file: jsonFile("b.json", []byte("[1,2]")), want: "not a valid backup"},
		{name: "timeout", file: downloadFailed, want: "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.send(Request{Callback: "AMOUNT_1-5_5000"})
			before := f.svc.Aggregate()

			f.send(Request{Command: CmdRestore})
			out := f.send(Request{File: tt.file})
			if !strings.Contains(out[0].Text, tt.want) {
				t.Fatalf("reply = %q", out[0].Text)
			}
			if f.svc.Aggregate() != before {
				t.Fatal("rejected restore changed the ledger")
			}
			if f.h.sessions.State(operator) != StateIdle {
				t.Fatal("rejected file should end the session")
			}
		})
	}
}

func TestRestoreSessionExits(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{name: "cancel", req: Request{Command: CmdCancel}, want: "Restore cancelled"},
		{name: "start", req: Request{Command: CmdStart}},
		{name: "button", req: Request{Callback: cbMainStats}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.send(Request{Command: CmdRestore})
			out := f.send(tt.req)
			if tt.want != "" && !strings.Contains(out[0].Text, tt.want) {
				t.Fatalf("reply = %q", out[0].Text)
			}
			if f.h.sessions.State(operator) != StateIdle {
				t.Fatal("session should be idle")
			}
		})
	}

	f := newFixture(t)
	if out := f.send(Request{Command: CmdCancel}); !strings.Contains(out[0].Text, "Nothing to cancel") {
		t.Fatalf("idle cancel = %q", out[0].Text)
	}
	if out := f.send(Request{File: jsonFile("b.json", []byte("{}"))}); !strings.Contains(out[0].Text, "/restore first") {
		t.Fatalf("file outside restore = %q", out[0].Text)
	}
	if f.svc.Len() != 5 {
		t.Fatal("file outside restore must not touch the ledger")
	}
}

func TestSessionExpiry(t *testing.T) {
	s := NewSessions(time.Millisecond)
	s.AwaitRestoreFile(operator)
	time.Sleep(5 * time.Millisecond)
	if s.State(operator) != StateIdle {
		t.Fatal("expired session should be idle")
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	f.h.limiter = ratelimit.NewLimiter[int64](ratelimit.Config{RequestsPerMinute: 2})

	f.send(Request{Text: "Ali"})
	f.send(Request{Text: "Ali"})
	out := f.send(Request{Text: "Ali"})
	if len(out) != 1 || !strings.Contains(out[0].Text, "Too many requests") {
		t.Fatalf("third request = %+v", out)
	}
	if v := testutil.ToFloat64(f.metrics.RateLimited); v != 1 {
		t.Fatalf("rate limited = %v", v)
	}
}

func TestUnknownInput(t *testing.T) {
	f := newFixture(t)
	if out := f.send(Request{Command: "help"}); !strings.Contains(out[0].Text, "Unknown command") {
		t.Fatalf("unknown command = %q", out[0].Text)
	}
	if out := f.send(Request{Callback: "SOMETHING_ELSE"}); !strings.Contains(out[0].Text, "no longer supported") {
		t.Fatalf("unknown callback = %q", out[0].Text)
	}
	if out := f.send(Request{Text: "   "}); len(out) != 0 {
		t.Fatalf("blank text = %+v", out)
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil},
		{err: errors.New("boom")},
		{err: context.DeadlineExceeded, want: true},
		{err: timeoutErr{}, want: true},
		{err: errors.Join(core.ErrDelivery, timeoutErr{}), want: true},
	}
	for _, tt := range tests {
		if got := IsTimeout(tt.err); got != tt.want {
			t.Errorf("IsTimeout(%v) = %v", tt.err, got)
		}
	}
}
