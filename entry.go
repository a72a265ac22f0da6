package spdklog

import "github.com/alpacahq/spdklog/internal/entry"

// LogEntry is the public view of a log's fixed-size entry header (spec §3).
type LogEntry struct {
	Ver  int64
	HLC  HLC
	Dlen uint64
	Ofst uint64
}

func fromInternal(e entry.Entry) LogEntry {
	return LogEntry{Ver: e.Ver, HLC: HLC{R: e.HLCR, L: e.HLCL}, Dlen: e.Dlen, Ofst: e.Ofst}
}
