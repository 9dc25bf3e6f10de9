package session

// Command strings sent to HP 3458A multimeters, verbatim.
const (
	// CmdIdentify enables EOI on replies and asks for the model.
	CmdIdentify = "END;ID?"

	// CmdArm holds the trigger arm, selects external trigger, one reading per trigger,
	// buffered input and FIFO reading memory. EXTOUT pulses the external output
	// at the end of each aperture.
	CmdArm = "EXTOUT APER,POS;TARM HOLD;TRIG EXT;NRDGS 1,AUTO;INBUF ON;MEM FIFO"

	// CmdTrigger arms a single measurement.
	CmdTrigger = "TARM SGL"

	// CmdTeardown returns the meter to free-running front-panel operation.
	CmdTeardown = "TARM AUTO;TRIG AUTO;NRDGS 1,AUTO;INBUF OFF;MEM OFF"
)

// DefaultModel is the expected reply to CmdIdentify.
const DefaultModel = "HP3458A"

// Publish name suffixes.
const (
	ReadingsSuffix = ":I"
	LoopTimeSuffix = ":LTIME"
)

// ReadingsName returns the name the readings of a cycle are published under.
func ReadingsName(prefix string) string { return prefix + ReadingsSuffix }

// LoopTimeName returns the name of the loop slack heartbeat.
func LoopTimeName(prefix string) string { return prefix + LoopTimeSuffix }
