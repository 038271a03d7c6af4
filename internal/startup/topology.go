package startup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"asset-indexer/internal/activity"
	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/reconcile"
	"asset-indexer/internal/workers"

	"github.com/BurntSushi/toml"
)

// Topology defaults.
const (
	DefaultTimeBetweenScans    = time.Hour
	DefaultMinStableTime       = time.Minute
	DefaultMaxDepth            = 10
	MaxMaxDepth                = 100
	DefaultResetBatchSize      = 10000
	DefaultDirListMaxSize      = 100
	DefaultSearchResultMaxSize = 100
	// MaxDefaultSpoolWorkers caps the CPU derived worker count of a spool
	// that sets no spool_workers.
	MaxDefaultSpoolWorkers = 8
)

// Duration is a time.Duration decoded from strings such as "90s" or "1h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Topology is the content of the realms configuration file.
type Topology struct {
	TimeBetweenScans     Duration `toml:"time_between_scans"`
	PendingActivityGrace Duration `toml:"pending_activity_grace"`
	ExplainSearchResults bool     `toml:"explain_search_results"`
	ResetBatchSize       int      `toml:"reset_batch_size"`
	DirListMaxSize       int      `toml:"dir_list_max_size"`
	SearchResultMaxSize  int      `toml:"search_result_max_size"`
	LostPolicy           string   `toml:"lost_policy"`
	// AuditTrail enables persisting scan and handler events.
	AuditTrail bool `toml:"audit_trail"`

	Realms   map[string]RealmConfig `toml:"realms"`
	Handlers []HandlerConfig        `toml:"handlers"`

	lostPolicy reconcile.LostPolicy
	disabled   map[string]bool
}

// RealmConfig groups the storages indexed together.
type RealmConfig struct {
	// WorkDir holds the realm's search index. Empty keeps it in memory.
	WorkDir           string                   `toml:"work_dir"`
	SpoolProcessAsset string                   `toml:"spool_process_asset"`
	SpoolWorkers      int                      `toml:"spool_workers"`
	TimeBetweenScans  Duration                 `toml:"time_between_scans"`
	Storages          map[string]StorageConfig `toml:"storages"`
}

// StorageConfig is one watched directory tree.
type StorageConfig struct {
	Root             string   `toml:"root"`
	TimeBetweenScans Duration `toml:"time_between_scans"`
	MinStableTime    Duration `toml:"min_stable_time"`
	// MaxDepth limits recursion, 0 means unlimited. Unset means 10.
	MaxDepth      *int `toml:"max_depth"`
	IncludeHidden bool `toml:"include_hidden"`
	// Watch enables filesystem notifications that trigger an early scan.
	Watch bool `toml:"watch"`
}

// HandlerConfig declares a built-in activity handler.
type HandlerConfig struct {
	Name         string   `toml:"name"`
	Kind         string   `toml:"kind"`
	Command      string   `toml:"command"`
	Args         []string `toml:"args"`
	PurgeCommand string   `toml:"purge_command"`
	Extensions   []string `toml:"extensions"`
	Events       []string `toml:"events"`
	After        []string `toml:"after"`
	Timeout      Duration `toml:"timeout"`
}

// StorageTarget is a validated storage with every default resolved.
type StorageTarget struct {
	Realm            string
	Storage          string
	Root             string
	TimeBetweenScans time.Duration
	MinStableTime    time.Duration
	MaxDepth         int
	IncludeHidden    bool
	Watch            bool
}

// DecodeTopology reads a topology from r and validates it.
func DecodeTopology(r io.Reader) (*Topology, error) {
	var t Topology
	md, err := toml.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	for _, key := range md.Undecoded() {
		logging.Warn("  Unknown configuration key: %s", key.String())
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReadTopologyFile reads and validates the topology at path.
func ReadTopologyFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topology file: %w", err)
	}
	defer f.Close()

	t, err := DecodeTopology(f)
	if err != nil {
		return nil, fmt.Errorf("reading topology from %s: %w", path, err)
	}
	return t, nil
}

// normalize applies defaults and drops invalid realms and storages. Only
// settings that make the whole file unusable are returned as errors.
func (t *Topology) normalize() error {
	if t.TimeBetweenScans.Duration <= 0 {
		t.TimeBetweenScans.Duration = DefaultTimeBetweenScans
	}
	if t.PendingActivityGrace.Duration <= 0 {
		t.PendingActivityGrace.Duration = activity.DefaultGrace
	}
	if t.ResetBatchSize <= 0 {
		t.ResetBatchSize = DefaultResetBatchSize
	}
	if t.DirListMaxSize <= 0 {
		t.DirListMaxSize = DefaultDirListMaxSize
	}
	if t.SearchResultMaxSize <= 0 {
		t.SearchResultMaxSize = DefaultSearchResultMaxSize
	}
	policy, err := reconcile.ParseLostPolicy(t.LostPolicy)
	if err != nil {
		return err
	}
	t.lostPolicy = policy

	for realm, rc := range t.Realms {
		if err := catalogue.ValidateName("realm", realm); err != nil {
			logging.Error("  Skipping realm: %v", err)
			delete(t.Realms, realm)
			continue
		}
		if rc.SpoolProcessAsset == "" {
			rc.SpoolProcessAsset = activity.DefaultSpool
		}
		if rc.SpoolWorkers <= 0 {
			rc.SpoolWorkers = workers.ForIO(MaxDefaultSpoolWorkers)
		}
		if rc.WorkDir != "" {
			abs, err := filepath.Abs(rc.WorkDir)
			if err != nil {
				t.Disable(realm, fmt.Errorf("invalid work_dir: %w", err))
				continue
			}
			rc.WorkDir = abs
		}
		for storage, sc := range rc.Storages {
			if err := validateStorage(storage, sc); err != nil {
				logging.Error("  Skipping storage %s of realm %s: %v", storage, realm, err)
				delete(rc.Storages, storage)
			}
		}
		t.Realms[realm] = rc
	}
	return nil
}

func validateStorage(name string, sc StorageConfig) error {
	if err := catalogue.ValidateName("storage", name); err != nil {
		return err
	}
	if sc.Root == "" {
		return fmt.Errorf("root is not set")
	}
	if !filepath.IsAbs(sc.Root) {
		return fmt.Errorf("root %q is not absolute", sc.Root)
	}
	if sc.MaxDepth != nil && (*sc.MaxDepth < 0 || *sc.MaxDepth > MaxMaxDepth) {
		return fmt.Errorf("max_depth %d outside 0..%d", *sc.MaxDepth, MaxMaxDepth)
	}
	return nil
}

// Disable removes a realm that cannot be served, such as one whose index
// cannot be opened. Unlike a realm missing from the file, its catalogue
// entries are kept for the next start.
func (t *Topology) Disable(realm string, reason error) {
	if _, ok := t.Realms[realm]; !ok {
		return
	}
	logging.Error("  Realm %s disabled: %v", realm, reason)
	delete(t.Realms, realm)
	if t.disabled == nil {
		t.disabled = make(map[string]bool)
	}
	t.disabled[realm] = true
}

// Disabled reports whether realm was configured and then disabled.
func (t *Topology) Disabled(realm string) bool {
	return t.disabled[realm]
}

// LostPolicyValue returns the parsed lost policy.
func (t *Topology) LostPolicyValue() reconcile.LostPolicy {
	return t.lostPolicy
}

// RealmNames returns the configured realms, sorted.
func (t *Topology) RealmNames() []string {
	names := make([]string, 0, len(t.Realms))
	for name := range t.Realms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StorageNames returns the storages of a realm, sorted.
func (t *Topology) StorageNames(realm string) []string {
	rc := t.Realms[realm]
	names := make([]string, 0, len(rc.Storages))
	for name := range rc.Storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns every storage with its effective settings, ordered by
// realm then storage. The scan interval falls back from storage to realm to
// the global setting.
func (t *Topology) Targets() []StorageTarget {
	var out []StorageTarget
	for _, realm := range t.RealmNames() {
		rc := t.Realms[realm]
		for _, storage := range t.StorageNames(realm) {
			sc := rc.Storages[storage]
			interval := sc.TimeBetweenScans.Duration
			if interval <= 0 {
				interval = rc.TimeBetweenScans.Duration
			}
			if interval <= 0 {
				interval = t.TimeBetweenScans.Duration
			}
			stable := sc.MinStableTime.Duration
			if stable <= 0 {
				stable = DefaultMinStableTime
			}
			depth := DefaultMaxDepth
			if sc.MaxDepth != nil {
				depth = *sc.MaxDepth
			}
			out = append(out, StorageTarget{
				Realm:            realm,
				Storage:          storage,
				Root:             filepath.Clean(sc.Root),
				TimeBetweenScans: interval,
				MinStableTime:    stable,
				MaxDepth:         depth,
				IncludeHidden:    sc.IncludeHidden,
				Watch:            sc.Watch,
			})
		}
	}
	return out
}

// Target returns the settings of one storage.
func (t *Topology) Target(realm, storage string) (StorageTarget, bool) {
	for _, target := range t.Targets() {
		if target.Realm == realm && target.Storage == storage {
			return target, true
		}
	}
	return StorageTarget{}, false
}

// HandlerSpecs converts the handler declarations.
func (t *Topology) HandlerSpecs() []activity.HandlerSpec {
	specs := make([]activity.HandlerSpec, 0, len(t.Handlers))
	for _, h := range t.Handlers {
		specs = append(specs, activity.HandlerSpec{
			Name:         h.Name,
			Kind:         h.Kind,
			Command:      h.Command,
			Args:         h.Args,
			PurgeCommand: h.PurgeCommand,
			Extensions:   h.Extensions,
			Events:       h.Events,
			After:        h.After,
			Timeout:      h.Timeout.Duration,
		})
	}
	return specs
}

// LogTopology prints the effective topology.
func LogTopology(t *Topology) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("REALMS")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Lost policy:          %s", t.lostPolicy)
	logging.Info("  Activity grace:       %v", t.PendingActivityGrace.Duration)
	logging.Info("  Audit trail:          %s", enabledString(t.AuditTrail))
	for _, realm := range t.RealmNames() {
		rc := t.Realms[realm]
		workDir := rc.WorkDir
		if workDir == "" {
			workDir = "(in memory)"
		}
		logging.Info("  Realm %s: index %s, spool %s (%d workers)", realm, workDir, rc.SpoolProcessAsset, rc.SpoolWorkers)
	}
	for _, target := range t.Targets() {
		logging.Info("    %s/%s: %s every %v, stable after %v", target.Realm, target.Storage, target.Root, target.TimeBetweenScans, target.MinStableTime)
	}
	if len(t.Handlers) > 0 {
		logging.Info("  Handlers:")
		for _, h := range t.Handlers {
			logging.Info("    %s (%s)", h.Name, h.Kind)
		}
	}
}
