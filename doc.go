// Package scicapture is an acquisition engine for scientific cameras driven
// through a vendor SDK handle.
//
// It negotiates the interlocking readout parameters (port, readout speed, gain,
// exposure, region, binning), owns the ring buffer the hardware fills during
// continuous capture, and delivers completed frames with per-frame metadata to a
// Sink under an explicit overflow policy.
//
// # Quick Start
//
//	dev := scicapture.NewSimulatedDevice(scicapture.DefaultSimulatorConfig())
//	sink := scicapture.NewSequenceBuffer(16)
//
//	cam, err := scicapture.Open(dev, scicapture.Config{ExposureMS: 5, Sink: sink})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cam.Close()
//
//	// One frame, blocking
//	if err := cam.Snap(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	img := cam.Image()
//
//	// 100 frames into the sink, clearing it on overflow
//	if err := cam.StartSequence(100, false); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    f, ok := sink.Pop()
//	    if !ok {
//	        break
//	    }
//	    process(f)
//	}
//
// # Session States
//
//   - Idle: nothing configured
//   - SingleShotArmed: configured for Snap
//   - ContinuousArmed: configured for StartSequence (PrepareSequence)
//   - ContinuousRunning: delivering frames
//
// Changing port, speed, gain, trigger mode, region, binning, frame buffer depth,
// acquisition method, color mode or a post-processing feature stops a running
// sequence first and invalidates both armed configurations. Changing the
// exposure never stops a sequence; a changed value is applied at the next arm.
//
// # Frame Delivery
//
// Polling runs a worker that checks the readout status every millisecond.
// Callback reacts to the hardware's completion notification on the hardware's
// own goroutine. Both bound every frame wait by
//
//	trigger timeout + pixel time*width*height + 2*exposure + 50ms
//
// and abort the hardware when it expires.
//
// With stopOnOverflow false, a sink reporting ErrSinkOverflow is cleared and
// the frame redelivered once; a second failure ends the sequence.
//
// # Sinks
//
// SequenceBuffer is a bounded queue for one consumer; it reports overflow when
// full. FrameBus copies each frame once and fans it out to several consumers,
// each with its own drop policy (DropNew for a buffered channel, DropOld for
// latest-frame-only); it never reports overflow.
//
// # Errors
//
// Classify maps any returned error to Configuration, Hardware, Timing or
// Overflow. Native SDK failures are returned as *HardwareError carrying the
// vendor code and message.
//
// # Thread Safety
//
// All Camera methods are safe for concurrent use. Stats, Mode and IsCapturing
// never block.
package scicapture
