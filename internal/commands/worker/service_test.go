package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/petstore-backend/internal/commands/dispatch"
	"github.com/angelmondragon/petstore-backend/pkg/command"
	dbpkg "github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/kafka"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/metrics"
)

type stubSource struct {
	records []command.Record
	results []error
}

func (s *stubSource) Run(ctx context.Context, fn kafka.RecordFunc) error {
	for _, record := range s.records {
		s.results = append(s.results, fn(ctx, record))
	}
	return nil
}

type stubIdempotency struct {
	processed map[uuid.UUID]bool
	lookupErr error
	marked    []uuid.UUID
}

func (s *stubIdempotency) IsProcessed(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	return s.processed[id], nil
}

func (s *stubIdempotency) MarkProcessed(_ context.Context, _ string, id uuid.UUID) error {
	s.marked = append(s.marked, id)
	return nil
}

type stubDLQ struct {
	entries []models.CommandDLQ
	err     error
}

func (s *stubDLQ) Insert(_ context.Context, entry models.CommandDLQ) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

// textColumnDLQ refuses what a Postgres text column refuses.
type textColumnDLQ struct {
	stubDLQ
}

func (s *textColumnDLQ) Insert(ctx context.Context, entry models.CommandDLQ) error {
	texts := []string{entry.Topic}
	if entry.CommandName != nil {
		texts = append(texts, *entry.CommandName)
	}
	if entry.ErrorMessage != nil {
		texts = append(texts, *entry.ErrorMessage)
	}
	for _, text := range texts {
		if !dbpkg.ValidText(text) {
			return errors.New(`invalid byte sequence for encoding "UTF8" (SQLSTATE 22021)`)
		}
	}
	return s.stubDLQ.Insert(ctx, entry)
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) Observe(_, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func record(t *testing.T, offset int64, cmd command.Command) command.Record {
	t.Helper()
	raw, err := command.Encode(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return command.Record{Topic: "pet-commands", Partition: 0, Offset: offset, Value: raw}
}

func newTestService(t *testing.T, source *stubSource, handler dispatch.Handler, idem idempotencyChecker, dlq *stubDLQ, m *recordingMetrics) *Service {
	t.Helper()
	params := ServiceParams{
		Source:      source,
		Decoder:     command.NewDecoder(),
		Handler:     handler,
		Idempotency: idem,
		Logger:      testLogger(),
	}
	if dlq != nil {
		params.DeadLetters = dlq
		params.DeadLetterEnabled = true
	}
	if m != nil {
		params.Metrics = m
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestProcessOutcomes(t *testing.T) {
	boom := errors.New("connection refused")
	router, err := dispatch.NewRouter(map[string]dispatch.Handler{
		"pet-create": dispatch.HandlerFunc(func(_ context.Context, cmd command.Command) error {
			_, err := command.Get[string](cmd, "name")
			return err
		}),
		"pet-flaky": dispatch.HandlerFunc(func(context.Context, command.Command) error {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, boom, "insert pet")
		}),
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	source := &stubSource{records: []command.Record{
		record(t, 0, command.New("pet-create", map[string]any{"name": "rex"})),
		{Topic: "pet-commands", Offset: 1, Value: []byte("not json")},
		record(t, 2, command.New("pet-create", map[string]any{"category": "dog"})),
		record(t, 3, command.New("pet-create", map[string]any{"name": 7})),
		record(t, 4, command.New("pet-delete", nil)),
		record(t, 5, command.New("pet-flaky", nil)),
	}}
	dlq := &stubDLQ{}
	m := &recordingMetrics{}
	svc := newTestService(t, source, router, nil, dlq, m)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for i := 0; i < 5; i++ {
		if source.results[i] != nil {
			t.Fatalf("record %d should be acknowledged, got %v", i, source.results[i])
		}
	}
	if !errors.Is(source.results[5], boom) {
		t.Fatalf("dependency failure must not be acknowledged, got %v", source.results[5])
	}

	wantOutcomes := []string{
		metrics.OutcomeProcessed,
		metrics.OutcomeDecodeError,
		metrics.OutcomeInvalidPayload,
		metrics.OutcomeInvalidPayload,
		metrics.OutcomeUnknownCommand,
		metrics.OutcomeRetry,
	}
	if len(m.outcomes) != len(wantOutcomes) {
		t.Fatalf("unexpected outcomes %v", m.outcomes)
	}
	for i, want := range wantOutcomes {
		if m.outcomes[i] != want {
			t.Fatalf("record %d: expected %s got %s", i, want, m.outcomes[i])
		}
	}

	wantReasons := []enums.CommandDLQReason{
		enums.CommandDLQReasonDecode,
		enums.CommandDLQReasonAttributeMissing,
		enums.CommandDLQReasonTypeMismatch,
		enums.CommandDLQReasonUnknownCommand,
	}
	if len(dlq.entries) != len(wantReasons) {
		t.Fatalf("expected %d dead letters, got %d", len(wantReasons), len(dlq.entries))
	}
	for i, want := range wantReasons {
		if dlq.entries[i].ErrorReason != want {
			t.Fatalf("dead letter %d: expected %s got %s", i, want, dlq.entries[i].ErrorReason)
		}
	}
	if dlq.entries[0].CommandID != nil || string(dlq.entries[0].RawValue) != "not json" {
		t.Fatalf("decode dead letter must keep the raw value without a command id")
	}
	if dlq.entries[3].CommandName == nil || *dlq.entries[3].CommandName != "pet-delete" {
		t.Fatalf("unknown command dead letter must keep the name")
	}
}

func TestProcessSkipsAlreadyProcessedCommands(t *testing.T) {
	cmd := command.New("pet-create", map[string]any{"name": "rex"})
	calls := 0
	handler := dispatch.HandlerFunc(func(context.Context, command.Command) error {
		calls++
		return nil
	})
	idem := &stubIdempotency{processed: map[uuid.UUID]bool{cmd.ID(): true}}
	m := &recordingMetrics{}
	source := &stubSource{records: []command.Record{record(t, 0, cmd)}}

	svc := newTestService(t, source, handler, idem, nil, m)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler should be skipped, got %d calls", calls)
	}
	if source.results[0] != nil || m.outcomes[0] != metrics.OutcomeDuplicate {
		t.Fatalf("unexpected result %v outcome %v", source.results[0], m.outcomes)
	}
}

func TestProcessMarksOnlyAfterSuccess(t *testing.T) {
	ok := command.New("pet-create", nil)
	failing := command.New("pet-create", map[string]any{"fail": true})
	handler := dispatch.HandlerFunc(func(_ context.Context, cmd command.Command) error {
		if cmd.Contains("fail") {
			return errors.New("db down")
		}
		return nil
	})
	idem := &stubIdempotency{processed: map[uuid.UUID]bool{}}
	source := &stubSource{records: []command.Record{record(t, 0, ok), record(t, 1, failing)}}

	svc := newTestService(t, source, handler, idem, nil, &recordingMetrics{})
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(idem.marked) != 1 || idem.marked[0] != ok.ID() {
		t.Fatalf("expected only the applied command to be marked, got %v", idem.marked)
	}
	if source.results[1] == nil {
		t.Fatalf("failed command must not be acknowledged")
	}
}

func TestProcessFallsBackToStoreWhenRedisFails(t *testing.T) {
	calls := 0
	handler := dispatch.HandlerFunc(func(context.Context, command.Command) error {
		calls++
		return nil
	})
	idem := &stubIdempotency{lookupErr: errors.New("redis timeout")}
	source := &stubSource{records: []command.Record{record(t, 0, command.New("pet-create", nil))}}

	svc := newTestService(t, source, handler, idem, nil, nil)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 || source.results[0] != nil {
		t.Fatalf("expected handler to run despite redis failure")
	}
}

func TestProcessRetriesWhenDeadLetterWriteFails(t *testing.T) {
	dlq := &stubDLQ{err: errors.New("insert failed")}
	m := &recordingMetrics{}
	source := &stubSource{records: []command.Record{{Topic: "pet-commands", Value: []byte("{")}}}
	router, _ := dispatch.NewRouter(nil)

	svc := newTestService(t, source, router, nil, dlq, m)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if source.results[0] == nil {
		t.Fatalf("record must stay unacknowledged when the dead letter is lost")
	}
	if m.outcomes[0] != metrics.OutcomeRetry {
		t.Fatalf("expected retry outcome, got %v", m.outcomes)
	}
}

func TestProcessDeadLettersUnstorableCommandName(t *testing.T) {
	dlq := &textColumnDLQ{}
	router, err := dispatch.NewRouter(map[string]dispatch.Handler{
		"pet-create": dispatch.HandlerFunc(func(context.Context, command.Command) error { return nil }),
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	source := &stubSource{records: []command.Record{
		{Topic: "pet-commands", Offset: 0, Value: []byte(`{"commandName":"pet-cr\u0000eate","payload":{}}`)},
		record(t, 1, command.New("pet-create", nil)),
	}}
	params := ServiceParams{
		Source:            source,
		Decoder:           command.NewDecoder(),
		Handler:           router,
		DeadLetters:       dlq,
		DeadLetterEnabled: true,
		Logger:            testLogger(),
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for i, res := range source.results {
		if res != nil {
			t.Fatalf("record %d must be acknowledged, got %v", i, res)
		}
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.CommandName == nil || *entry.CommandName != "pet-create" {
		t.Fatalf("expected cleaned command name, got %v", entry.CommandName)
	}
	if entry.ErrorReason != enums.CommandDLQReasonUnknownCommand {
		t.Fatalf("unexpected reason %s", entry.ErrorReason)
	}
}

func TestProcessWithoutDeadLettering(t *testing.T) {
	source := &stubSource{records: []command.Record{{Topic: "pet-commands", Value: []byte("{")}}}
	router, _ := dispatch.NewRouter(nil)

	svc := newTestService(t, source, router, nil, nil, nil)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if source.results[0] != nil {
		t.Fatalf("decode failures are acknowledged, got %v", source.results[0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
		reason  enums.CommandDLQReason
	}{
		{"untyped", errors.New("timeout"), metrics.OutcomeRetry, ""},
		{"dependency", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("x"), "y"), metrics.OutcomeRetry, ""},
		{"typed invalid", pkgerrors.New(pkgerrors.CodeInvalidPayload, "dob malformed"), metrics.OutcomeInvalidPayload, enums.CommandDLQReasonInvalidPayload},
		{"typed unknown", pkgerrors.New(pkgerrors.CodeUnknownCommand, "pet-x"), metrics.OutcomeUnknownCommand, enums.CommandDLQReasonUnknownCommand},
		{"router unknown", dispatch.ErrUnknownCommand, metrics.OutcomeUnknownCommand, enums.CommandDLQReasonUnknownCommand},
	}
	for _, tt := range tests {
		outcome, reason := classify(tt.err)
		if outcome != tt.outcome || reason != tt.reason {
			t.Fatalf("%s: got %s/%s want %s/%s", tt.name, outcome, reason, tt.outcome, tt.reason)
		}
	}
}

func TestNewServiceValidation(t *testing.T) {
	router, _ := dispatch.NewRouter(nil)
	_, err := NewService(ServiceParams{
		Source:            &stubSource{},
		Decoder:           command.NewDecoder(),
		Handler:           router,
		DeadLetterEnabled: true,
		Logger:            testLogger(),
	})
	if err == nil {
		t.Fatal("expected missing dead letter repository to fail")
	}
}

func TestServiceWithPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router, _ := dispatch.NewRouter(map[string]dispatch.Handler{
		"pet-create": dispatch.HandlerFunc(func(context.Context, command.Command) error { return nil }),
	})
	source := &stubSource{records: []command.Record{record(t, 0, command.New("pet-create", nil))}}
	svc, err := NewService(ServiceParams{
		Source:  source,
		Decoder: command.NewDecoder(),
		Handler: router,
		Metrics: metrics.NewPipelineMetrics(reg),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "commands_total" && len(mf.GetMetric()) == 1 && mf.GetMetric()[0].GetCounter().GetValue() == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected commands_total to be recorded")
	}
}

func TestDLQRepositoryIgnoresRedeliveredRecord(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.CommandDLQ{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := NewDLQRepository(conn)
	long := make([]byte, 2*maxDLQErrorLength)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	entry := models.CommandDLQ{
		Topic:        "pet-commands",
		Partition:    1,
		Offset:       42,
		RawValue:     []byte("{"),
		ErrorReason:  enums.CommandDLQReasonDecode,
		ErrorMessage: &msg,
	}
	for i := 0; i < 2; i++ {
		if err := repo.Insert(context.Background(), entry); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	rows, err := repo.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(rows))
	}
	if rows[0].ErrorMessage == nil || len(*rows[0].ErrorMessage) != maxDLQErrorLength {
		t.Fatalf("expected truncated error message")
	}
}

func TestCleanDeadLetterKeepsTextStorable(t *testing.T) {
	name := "pet-cr\x00eate"
	msg := strings.Repeat("a", maxDLQErrorLength-1) + "é" + strings.Repeat("ü", 100)
	entry := cleanDeadLetter(models.CommandDLQ{Topic: "pet-commands", CommandName: &name, ErrorMessage: &msg})

	if *entry.CommandName != "pet-create" {
		t.Fatalf("unexpected command name %q", *entry.CommandName)
	}
	got := *entry.ErrorMessage
	if len(got) > maxDLQErrorLength || !utf8.ValidString(got) {
		t.Fatalf("error message len=%d valid=%v", len(got), utf8.ValidString(got))
	}
	if got != strings.Repeat("a", maxDLQErrorLength-1) {
		t.Fatalf("expected cut before the split rune, got %d bytes", len(got))
	}
}
