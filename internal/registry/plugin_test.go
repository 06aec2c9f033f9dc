package registry

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"snakeplane/internal/settings"
)

func clusterGenericPlugin(t *testing.T) (*Plugin, *pflag.FlagSet) {
	t.Helper()
	reg := newTestRegistry()
	m := clusterGenericModule()
	if err := reg.Register(m.Name, m); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	p, err := reg.Get("cluster-generic")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := reg.RegisterCLIArgs(flags); err != nil {
		t.Fatalf("RegisterCLIArgs failed: %v", err)
	}
	return p, flags
}

func TestPlugin_ExecutorSettingsFromFlags(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{"--cluster-generic-submit-cmd", "qsub", "--cluster-generic-max-jobs=7"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	rec, err := p.ExecutorSettings(flags)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}
	if got := rec.String("submit_cmd"); got != "qsub" {
		t.Errorf("submit_cmd = %q, want qsub", got)
	}
	if got := rec.Int("max_jobs"); got != 7 {
		t.Errorf("max_jobs = %d, want 7", got)
	}
	if got := rec.String("queue"); got != "short" {
		t.Errorf("queue = %q, want default short", got)
	}
	if rec.Supplied("queue") {
		t.Error("queue must not be reported as supplied")
	}
}

func TestPlugin_MissingRequiredSetting(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err := p.ExecutorSettings(flags)
	var missing *MissingSettingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSettingError, got %v", err)
	}
	if missing.Flag != "--cluster-generic-submit-cmd" {
		t.Errorf("Flag = %q, want --cluster-generic-submit-cmd", missing.Flag)
	}
	if missing.EnvVar != "SNAKEMAKE_CLUSTER_GENERIC_SUBMIT_CMD" {
		t.Errorf("EnvVar = %q", missing.EnvVar)
	}
}

func TestPlugin_EnvFallback(t *testing.T) {
	t.Setenv("SNAKEMAKE_CLUSTER_GENERIC_SUBMIT_CMD", "sbatch")
	t.Setenv("SNAKEMAKE_CLUSTER_GENERIC_MAX_JOBS", "12")

	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{"--cluster-generic-max-jobs", "3"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	rec, err := p.ExecutorSettings(flags)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}
	if got := rec.String("submit_cmd"); got != "sbatch" {
		t.Errorf("submit_cmd = %q, want sbatch from env", got)
	}
	if got := rec.Int("max_jobs"); got != 3 {
		t.Errorf("max_jobs = %d, want flag to win over env", got)
	}
}

func TestPlugin_EnvValueNotConvertible(t *testing.T) {
	t.Setenv("SNAKEMAKE_CLUSTER_GENERIC_MAX_JOBS", "many")

	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{"--cluster-generic-submit-cmd", "qsub"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err := p.ExecutorSettings(flags)
	var valueErr *settings.ValueError
	if !errors.As(err, &valueErr) {
		t.Fatalf("expected ValueError, got %v", err)
	}
	if valueErr.Field != "max_jobs" {
		t.Errorf("Field = %q, want max_jobs", valueErr.Field)
	}
}

func TestPlugin_ChoiceViolation(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{"--cluster-generic-submit-cmd", "qsub", "--cluster-generic-queue", "medium"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err := p.ExecutorSettings(flags)
	var valueErr *settings.ValueError
	if !errors.As(err, &valueErr) || valueErr.Field != "queue" {
		t.Fatalf("expected ValueError on queue, got %v", err)
	}
}

func TestPlugin_SettingsRoundTrip(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{
		"--cluster-generic-submit-cmd", "qsub -V",
		"--cluster-generic-queue", "long",
		"--cluster-generic-ratio", "0.25",
		"--cluster-generic-dry",
		"--cluster-generic-extra", `"--gres=gpu:1,mem=4G",b,"say ""hi"""`,
	}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	first, err := p.ExecutorSettings(flags)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}
	wantExtra := []string{"--gres=gpu:1,mem=4G", "b", `say "hi"`}
	if got := first.StringSlice("extra"); !slices.Equal(got, wantExtra) {
		t.Fatalf("extra = %q, want %q", got, wantExtra)
	}

	_, again := clusterGenericPlugin(t)
	args := first.Args(p.Name)
	if err := again.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	second, err := p.ExecutorSettings(again)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("round trip changed values:\n%v\n%v", first.Values(), second.Values())
	}
}

func TestPlugin_RegisterCLIArgsAnnotations(t *testing.T) {
	_, flags := clusterGenericPlugin(t)

	flag := flags.Lookup("cluster-generic-submit-cmd")
	if flag == nil {
		t.Fatal("expected --cluster-generic-submit-cmd")
	}
	if got := flag.Annotations[AnnotationGroup]; len(got) != 1 || got[0] != "cluster-generic executor settings" {
		t.Errorf("group annotation = %v", got)
	}
	if got := flag.Annotations[AnnotationEnv]; len(got) != 1 || got[0] != "SNAKEMAKE_CLUSTER_GENERIC_SUBMIT_CMD" {
		t.Errorf("env annotation = %v", got)
	}
	if !strings.Contains(flag.Usage, "(required)") || !strings.Contains(flag.Usage, "SNAKEMAKE_CLUSTER_GENERIC_SUBMIT_CMD") {
		t.Errorf("unexpected usage %q", flag.Usage)
	}

	queue := flags.Lookup("cluster-generic-queue")
	if queue == nil || !strings.Contains(queue.Usage, "choices: short, long") {
		t.Errorf("expected choices in usage, got %+v", queue)
	}
	if _, ok := queue.Annotations[AnnotationEnv]; ok {
		t.Error("queue has no env fallback")
	}
}

func TestPlugin_RegisterCLIArgsConflicts(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := p.RegisterCLIArgs(flags); err == nil {
		t.Fatal("expected error when registering the same flags twice")
	}
}

func TestPlugin_RegisterCLIArgsInvalidSchema(t *testing.T) {
	p := &Plugin{Name: "broken", Schema: &settings.Schema{Fields: []settings.Field{
		{Name: "opt", Type: settings.String},
	}}}

	err := p.RegisterCLIArgs(pflag.NewFlagSet("test", pflag.ContinueOnError))
	var invalid *InvalidPluginError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPluginError, got %v", err)
	}
}

func TestPlugin_NoSchema(t *testing.T) {
	reg := newTestRegistry()
	m := minimalModule("snakemake-executor-plugin-local")
	if err := reg.Register(m.Name, m); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	p, _ := reg.Get("local")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := p.RegisterCLIArgs(flags); err != nil {
		t.Fatalf("RegisterCLIArgs failed: %v", err)
	}
	if flags.HasFlags() {
		t.Error("expected no flags for a plugin without settings")
	}
	rec, err := p.ExecutorSettings(flags)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}
	if len(rec.Values()) != 0 {
		t.Errorf("expected empty record, got %v", rec.Values())
	}
}

func TestPlugin_FactoryReceivesRecord(t *testing.T) {
	p, flags := clusterGenericPlugin(t)
	if err := flags.Parse([]string{"--cluster-generic-submit-cmd", "qsub"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rec, err := p.ExecutorSettings(flags)
	if err != nil {
		t.Fatalf("ExecutorSettings failed: %v", err)
	}

	backend, err := p.Factory(nil, rec)
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	fb, ok := backend.(*fakeBackend)
	if !ok {
		t.Fatalf("unexpected backend type %T", backend)
	}
	if fb.record != rec {
		t.Error("factory did not receive the settings record")
	}
}
