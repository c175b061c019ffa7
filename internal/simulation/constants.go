package simulation

import "time"

const (
	// interruptTicks is the consecutive-silence poll count that, while
	// the elapsed silence is still under interruptWindow, signals a
	// brief interruption rather than end of turn.
	interruptTicks  = 20
	interruptWindow = time.Second

	// advanceDelay separates a finished round from the next prompt.
	advanceDelay = 2 * time.Second

	timeoutAnswer    = "(no answer — timeout)"
	emptyAnswer      = "(no speech recognized)"
	captureBufferLen = 16
)
