// Package taskpool runs tasks concurrently while yielding their results in
// submission order.
//
// A [Window] pulls tasks lazily from an iter.Seq and keeps at most N of them
// outstanding. Consumers call [Window.Next] to receive results one at a time;
// a slow early task stalls consumption even when later tasks have finished,
// which bounds memory and network fan-out rather than latency.
//
//	w := taskpool.NewWindow(ctx, 4, tasks)
//	defer w.Close()
//	for {
//	    v, err := w.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    use(v)
//	}
//
// The first failing task aborts the window: no further tasks are submitted,
// outstanding tasks see their context cancelled, and every later call to Next
// returns the same error.
package taskpool
