package train

import (
	"log"
	"time"

	"github.com/djeday123/gotune/eval"
)

// Tracker receives training telemetry. The console tracker is the
// default; experiment-tracking integrations implement the same interface.
type Tracker interface {
	LogIter(iter int, loss float64, dt time.Duration, lr, mfu float64)
	LogEval(iter int, res *eval.Result, lr float64)
	LogStepSkipped(iter int, lossScale float64)
	Close() error
}

// ConsoleTracker prints telemetry through the standard logger.
type ConsoleTracker struct{}

func (ConsoleTracker) LogIter(iter int, loss float64, dt time.Duration, lr, mfu float64) {
	log.Printf("iter %d: loss %.4f, time %.2fms, lr %.2e, mfu %.2f%%",
		iter, loss, float64(dt.Microseconds())/1000, lr, mfu*100)
}

func (ConsoleTracker) LogEval(iter int, res *eval.Result, lr float64) {
	log.Printf("step %d: train loss %.4f, val loss %.4f, val bleu %.4f, val rouge-l %.4f",
		iter, res.Train.Loss, res.Val.Loss, res.Val.BLEU, res.Val.RougeL)
	log.Printf("step %d: target %q", iter, res.Sample.Target)
	log.Printf("step %d: output %q", iter, res.Sample.Output)
}

func (ConsoleTracker) LogStepSkipped(iter int, lossScale float64) {
	log.Printf("iter %d: non-finite gradients, step skipped (loss scale now %.0f)", iter, lossScale)
}

func (ConsoleTracker) Close() error { return nil }
