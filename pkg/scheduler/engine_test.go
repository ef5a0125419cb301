package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/executor"
	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/models"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider/providertest"
)

// 14:30:05 UTC
var testNow = time.Date(2024, 6, 1, 14, 30, 5, 0, time.UTC)

func newTestEngine(fake *providertest.Fake) *Engine {
	return NewEngine(fake, executor.New(fake, nil, logger.Nop()), PolicyStandard, nil, logger.Nop())
}

func TestEngine_DisabledTouchesNothing(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db0", models.InstanceAvailable, map[string]string{
		"snapshot_never":    "",
		"snapshot_latest":   "02",
		"snapshot_schedule": "14",
	})

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

	if res.Err != nil {
		t.Fatalf("ProcessInstance() error = %v", res.Err)
	}
	if res.Outcome != OutcomeDisabled {
		t.Errorf("Outcome = %s, want disabled", res.Outcome)
	}
	if m := fake.Mutations(); len(m) != 0 {
		t.Errorf("Expected no mutations, got %v", m)
	}
	if got := fake.Tags(inst.ARN)["snapshot_latest"]; got != "02" {
		t.Errorf("snapshot_latest = %q, want preserved 02", got)
	}
}

func TestEngine_AlreadyDone(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db1", models.InstanceAvailable, map[string]string{
		"snapshot_latest":   "14",
		"snapshot_schedule": "02 14",
	})

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

	if res.Outcome != OutcomeAlreadyDone {
		t.Fatalf("Outcome = %s, want already_done (err %v)", res.Outcome, res.Err)
	}
	if calls := fake.CallsTo("CreateSnapshot"); len(calls) != 0 {
		t.Errorf("Expected no snapshot, got %v", calls)
	}
	want := []string{
		"RemoveTags " + inst.ARN + " snapshot_latest",
		"AddTags " + inst.ARN + " snapshot_latest=14",
	}
	assertMutations(t, fake, want)
}

func TestEngine_DueCreatesSnapshot(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db2", models.InstanceAvailable, map[string]string{
		"snapshot_schedule": "02 14",
		"snapshot_latest":   "skipped",
	})

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %s, want created (err %v)", res.Outcome, res.Err)
	}
	if res.Snapshot != "db2-20240601143005" {
		t.Errorf("Snapshot = %q", res.Snapshot)
	}
	want := []string{
		"RemoveTags " + inst.ARN + " snapshot_latest",
		"CreateSnapshot db2 db2-20240601143005 snapshot_expiry=2024-08-30_14:30:05",
		"AddTags " + inst.ARN + " snapshot_latest=14",
	}
	assertMutations(t, fake, want)
}

func TestEngine_DueIneligibleStatus(t *testing.T) {
	statuses := []models.InstanceStatus{models.InstancePending, models.InstanceBackingUp, models.InstanceStopped}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			fake := providertest.NewFake()
			inst := fake.AddInstance("db1", status, map[string]string{})

			res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

			if res.Outcome != OutcomeDeferred {
				t.Fatalf("Outcome = %s, want deferred (err %v)", res.Outcome, res.Err)
			}
			if calls := fake.CallsTo("CreateSnapshot"); len(calls) != 0 {
				t.Errorf("Expected no snapshot, got %v", calls)
			}
			if got := fake.Tags(inst.ARN)["snapshot_latest"]; got != "skipped" {
				t.Errorf("snapshot_latest = %q, want skipped", got)
			}
		})
	}
}

func TestEngine_StorageOptimizationIsEligible(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db4", models.InstanceStorageOptimization, map[string]string{"snapshot_schedule": "14"})

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)
	if res.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %s, want created (err %v)", res.Outcome, res.Err)
	}
}

func TestEngine_NotDueRestoresPrior(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db5", models.InstanceAvailable, map[string]string{"snapshot_latest": "02"})

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

	if res.Outcome != OutcomeNotDue {
		t.Fatalf("Outcome = %s, want not_due (err %v)", res.Outcome, res.Err)
	}
	want := []string{
		"RemoveTags " + inst.ARN + " snapshot_latest",
		"AddTags " + inst.ARN + " snapshot_latest=02",
	}
	assertMutations(t, fake, want)
}

func TestEngine_CreateFailureLeavesLatestRemoved(t *testing.T) {
	fake := providertest.NewFake()
	inst := fake.AddInstance("db6", models.InstanceAvailable, map[string]string{
		"snapshot_latest":   "02",
		"snapshot_schedule": "14",
	})
	fake.Errors["CreateSnapshot db6"] = errors.New("InvalidDBInstanceState")

	res := newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow)

	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("Expected failure, got %s (err %v)", res.Outcome, res.Err)
	}
	if _, ok := fake.Tags(inst.ARN)["snapshot_latest"]; ok {
		t.Error("Expected snapshot_latest to stay removed so the next run retries")
	}

	// next hour: absent latest is treated as skipped
	delete(fake.Errors, "CreateSnapshot db6")
	res = newTestEngine(fake).ProcessInstance(context.Background(), inst, testNow.Add(time.Hour))
	if res.Outcome != OutcomeCreated {
		t.Errorf("Expected retry to create snapshot, got %s (err %v)", res.Outcome, res.Err)
	}
	if got := fake.Tags(inst.ARN)["snapshot_latest"]; got != "15" {
		t.Errorf("snapshot_latest = %q, want 15", got)
	}
}

func TestEngine_RunIsolatesFailures(t *testing.T) {
	fake := providertest.NewFake()
	broken := fake.AddInstance("broken", models.InstanceAvailable, map[string]string{"snapshot_schedule": "14"})
	healthy := fake.AddInstance("healthy", models.InstanceAvailable, map[string]string{"snapshot_schedule": "14"})
	idle := fake.AddInstance("idle", models.InstanceAvailable, map[string]string{"snapshot_latest": "02"})
	fake.Errors["ListTags "+broken.ARN] = errors.New("AccessDenied")

	instances := []models.Instance{broken, healthy, idle}
	report := newTestEngine(fake).Run(context.Background(), instances, testNow)

	if len(report.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(report.Results))
	}
	if report.Count(OutcomeFailed) != 1 || report.Results[0].Err == nil {
		t.Errorf("Expected first instance to fail, got %+v", report.Results[0])
	}
	if report.Results[1].Outcome != OutcomeCreated {
		t.Errorf("Expected healthy instance snapshot, got %s (err %v)", report.Results[1].Outcome, report.Results[1].Err)
	}
	if report.Results[2].Outcome != OutcomeNotDue {
		t.Errorf("Expected idle instance not due, got %s", report.Results[2].Outcome)
	}
	if got := fake.Tags(healthy.ARN)["snapshot_latest"]; got != "14" {
		t.Errorf("snapshot_latest = %q, want 14", got)
	}
}

func TestEngine_MalformedARN(t *testing.T) {
	fake := providertest.NewFake()
	inst := models.Instance{Identifier: "ghost", ARN: "not-an-arn", Status: models.InstanceAvailable}

	report := newTestEngine(fake).Run(context.Background(), []models.Instance{inst}, testNow)
	if report.Count(OutcomeFailed) != 1 {
		t.Errorf("Expected malformed ARN to fail the instance, got %+v", report.Results)
	}
}

func TestEngine_LogsInstanceIdentifierOnFailure(t *testing.T) {
	var buf strings.Builder
	fake := providertest.NewFake()
	inst := fake.AddInstance("db7", models.InstanceAvailable, nil)
	fake.Errors["ListTags "+inst.ARN] = errors.New("Throttling")

	engine := NewEngine(fake, executor.New(fake, nil, logger.Nop()), PolicyStandard, nil, logger.NewWithWriter("test", &buf))
	engine.Run(context.Background(), []models.Instance{inst}, testNow)

	out := buf.String()
	if !strings.Contains(out, `"db_instance":"db7"`) || !strings.Contains(out, "instance_failed") {
		t.Errorf("Expected failure log with instance identifier, got %s", out)
	}
}

func assertMutations(t *testing.T, fake *providertest.Fake, want []string) {
	t.Helper()
	got := fake.Mutations()
	if len(got) != len(want) {
		t.Fatalf("Expected %d mutations, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("mutation %d = %q, want %q", i, got[i].String(), want[i])
		}
	}
}
