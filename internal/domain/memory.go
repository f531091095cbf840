package domain

import "time"

// MemorySection tags an entry in the append-ordered memory log.
type MemorySection string

const (
	SectionLearnedPatterns MemorySection = "Learned Patterns"
	SectionConfigurations  MemorySection = "Configurations"
	SectionDecisions       MemorySection = "Decisions"
	SectionWhatWorked      MemorySection = "What Worked"
	SectionWhatFailed      MemorySection = "What Failed"
	SectionRules           MemorySection = "Rules"
	SectionKnownIssues     MemorySection = "Known Issues"
)

// MemorySections is the canonical section order of the log.
var MemorySections = []MemorySection{
	SectionLearnedPatterns,
	SectionConfigurations,
	SectionDecisions,
	SectionWhatWorked,
	SectionWhatFailed,
	SectionRules,
	SectionKnownIssues,
}

// MemoryEntry is one timestamped record in the memory log, the system's
// sole source of cross-cycle truth. Append-only.
type MemoryEntry struct {
	Section MemorySection
	At      time.Time // zero for manually edited entries without a timestamp
	Text    string
}
