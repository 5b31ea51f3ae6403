package journalizer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/clock"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store       *store.SQLStore
	journal     *journal.Journal
	journalizer *Journalizer
	ring        *diagnostics.Ring
}

func TestTickJournalsCreateUpdateDelete(testContext *testing.T) {
	ctx := context.Background()
	fx := newFixture(testContext)

	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: baseTime, End: baseTime.Add(time.Hour)})
	result, err := fx.journalizer.Tick(ctx)
	if err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if result.Created != 1 || result.Updated != 0 || result.Deleted != 0 {
		testContext.Fatalf("unexpected first tick result: %+v", result)
	}

	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-a", Title: "Piano lesson", Start: baseTime, End: baseTime.Add(time.Hour)})
	result, err = fx.journalizer.Tick(ctx)
	if err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if result.Updated != 1 {
		testContext.Fatalf("expected one update, got %+v", result)
	}

	if err := fx.store.Remove(ctx, "evt-a"); err != nil {
		testContext.Fatalf("remove failed: %v", err)
	}
	result, err = fx.journalizer.Tick(ctx)
	if err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if result.Deleted != 1 {
		testContext.Fatalf("expected one delete, got %+v", result)
	}

	entries, err := fx.journal.List(ctx)
	if err != nil {
		testContext.Fatalf("list failed: %v", err)
	}
	wantActions := []journal.Action{journal.ActionCreate, journal.ActionUpdate, journal.ActionDelete}
	if len(entries) != len(wantActions) {
		testContext.Fatalf("expected %d entries, got %d", len(wantActions), len(entries))
	}
	for index, want := range wantActions {
		if entries[index].Action != want {
			testContext.Fatalf("entry %d: expected %s, got %s", index, want, entries[index].Action)
		}
	}
	if entries[1].Before == nil || entries[1].Before.Title != "Piano" || entries[1].After.Title != "Piano lesson" {
		testContext.Fatalf("expected update snapshots, got %+v", entries[1])
	}
	if entries[2].Before == nil || entries[2].After != nil {
		testContext.Fatalf("expected delete to carry only the before snapshot, got %+v", entries[2])
	}
}

func TestTickSkipsBindingOnlyChanges(testContext *testing.T) {
	ctx := context.Background()
	fx := newFixture(testContext)

	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: baseTime, End: baseTime.Add(time.Hour)})
	if _, err := fx.journalizer.Tick(ctx); err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	binding := calendar.RemoteBinding{Provider: calendar.ProviderGoogle, CalendarID: "family", ExternalID: "g1", ETag: "e1"}
	if err := fx.store.Rebind(ctx, "evt-a", binding); err != nil {
		testContext.Fatalf("rebind failed: %v", err)
	}

	result, err := fx.journalizer.Tick(ctx)
	if err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if result.Changed() || result.BindingsOnly != 1 {
		testContext.Fatalf("expected binding-only change to be absorbed, got %+v", result)
	}

	result, err = fx.journalizer.Tick(ctx)
	if err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if result.Changed() || result.BindingsOnly != 0 {
		testContext.Fatalf("expected shadow to hold the new binding, got %+v", result)
	}

	entries, err := fx.journal.List(ctx)
	if err != nil {
		testContext.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		testContext.Fatalf("expected only the create entry, got %d", len(entries))
	}
}

func TestTickIsQuietWithoutChanges(testContext *testing.T) {
	ctx := context.Background()
	fx := newFixture(testContext)
	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: baseTime, End: baseTime.Add(time.Hour)})
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := fx.journalizer.Tick(ctx); err != nil {
			testContext.Fatalf("tick failed: %v", err)
		}
	}
	entries, err := fx.journal.List(ctx)
	if err != nil {
		testContext.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		testContext.Fatalf("expected a single create entry, got %d", len(entries))
	}
}

func TestTickRecordsDiagnostics(testContext *testing.T) {
	ctx := context.Background()
	fx := newFixture(testContext)
	fx.ring.SetTrace(true)
	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-trace", Title: "Swim", Start: baseTime, End: baseTime.Add(time.Hour)})
	if _, err := fx.journalizer.Tick(ctx); err != nil {
		testContext.Fatalf("tick failed: %v", err)
	}
	if matches := fx.ring.Search("evt-trace"); len(matches) != 1 || matches[0].Phase != diagnostics.PhaseJournalize {
		testContext.Fatalf("expected one journalize trace entry, got %+v", matches)
	}
}

func TestRunTicksOnSignals(testContext *testing.T) {
	fx := newFixture(testContext)
	notifier := store.NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals, cleanup := notifier.Subscribe(ctx)
	defer cleanup()

	done := make(chan error, 1)
	go func() {
		done <- fx.journalizer.Run(ctx, signals)
	}()

	saveEvent(testContext, fx.store, calendar.LocalEvent{ID: "evt-run", Title: "Football", Start: baseTime, End: baseTime.Add(time.Hour)})
	notifier.Publish(store.ChangeSignal{Origin: store.OriginLocal, EventIDs: []calendar.EventID{"evt-run"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := fx.journal.List(context.Background())
		if err != nil {
			testContext.Fatalf("list failed: %v", err)
		}
		if len(entries) == 1 {
			break
		}
		if time.Now().After(deadline) {
			testContext.Fatalf("expected journalizer to record the create, got %d entries", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		testContext.Fatal("journalizer did not stop after cancellation")
	}
}

func newFixture(testContext *testing.T) fixture {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "journalizer.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&store.EventRecord{}, &journal.Entry{}, &ShadowRecord{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	eventStore, err := store.NewSQLStore(store.Config{Database: database, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	ledger, err := journal.New(context.Background(), journal.Config{Database: database, Sequencer: clock.NewSequencer(nil, 0)})
	if err != nil {
		testContext.Fatalf("failed to build journal: %v", err)
	}
	ring := diagnostics.NewRing(16, false)
	journalizer, err := New(Config{Source: eventStore, Journal: ledger, Database: database, Diagnostics: ring})
	if err != nil {
		testContext.Fatalf("failed to build journalizer: %v", err)
	}
	return fixture{store: eventStore, journal: ledger, journalizer: journalizer, ring: ring}
}

func saveEvent(testContext *testing.T, eventStore *store.SQLStore, event calendar.LocalEvent) {
	testContext.Helper()
	if _, err := eventStore.Save(context.Background(), event); err != nil {
		testContext.Fatalf("save failed: %v", err)
	}
}
