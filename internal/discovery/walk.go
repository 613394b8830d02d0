package discovery

import (
	"os"
	"path/filepath"

	"github.com/estuary/logtail/internal/alarm"
	log "github.com/sirupsen/logrus"
)

// defaultMaxScanEntries is the per-directory scan-entry cap Scan
// applies to every directory; Config.MaxScanEntries is not consulted.
const defaultMaxScanEntries = 1000

// Scan walks root, matching each regular file against m, and invoking
// visit for every match. Directory-open failures raise a rate-limited
// alarm and are skipped; a directory whose entry count exceeds the
// per-directory cap is skipped with an alarm and retried on the next
// call to Scan.
func Scan(root string, maxDepth int, m *Matcher, alarms *alarm.Limiter, visit func(path string, cfgs []*Config)) {
	scanDir(root, 0, maxDepth, m, alarms, visit)
}

func scanDir(dir string, depth, maxDepth int, m *Matcher, alarms *alarm.Limiter, visit func(string, []*Config)) {
	if maxDepth > 0 && depth > maxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if alarms != nil {
			alarms.Raise(alarm.Key{Kind: "dir_open_failed"}, log.Fields{"dir": dir, "err": err.Error()}, "failed to open directory")
		}
		return
	}

	var scanCap = defaultMaxScanEntries
	if len(entries) > scanCap {
		if alarms != nil {
			alarms.Raise(alarm.Key{Kind: "scan_entry_cap"}, log.Fields{"dir": dir, "entries": len(entries), "cap": scanCap}, "directory exceeded per-directory scan-entry cap")
		}
		return
	}

	for _, e := range entries {
		var path = filepath.Join(dir, e.Name())
		if e.IsDir() {
			scanDir(path, depth+1, maxDepth, m, alarms, visit)
			continue
		}
		if cfgs := m.Match(path); len(cfgs) > 0 {
			visit(path, cfgs)
		}
	}
}
