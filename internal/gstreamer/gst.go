// Package gstreamer captures and encodes video with GStreamer pipelines.
package gstreamer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotRunning is returned when a pipeline operation needs a running pipeline.
	ErrNotRunning = errors.New("gstreamer: pipeline not running")

	// ErrElementMissing is returned when a required GStreamer plugin is absent.
	ErrElementMissing = errors.New("gstreamer: element not available")
)

var (
	initOnce sync.Once
	mainLoop *glib.MainLoop
)

// Init initialises GStreamer and starts the glib main loop that dispatches
// bus watches. It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
		mainLoop = glib.NewMainLoop(glib.MainContextDefault(), false)
		go mainLoop.Run()
	})
}

// HasElements reports whether every named element factory is installed.
func HasElements(names ...string) error {
	Init()
	for _, name := range names {
		if gst.Find(name) == nil {
			return fmt.Errorf("%w: %s", ErrElementMissing, name)
		}
	}
	return nil
}

// watchBus logs pipeline errors and warnings. onFatal runs on error and EOS.
func watchBus(pipeline *gst.Pipeline, logger *logrus.Entry, onFatal func(error)) {
	pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.Errorf("Pipeline error: %s", gerr.Error())
			if debug := gerr.DebugString(); debug != "" {
				logger.Debugf("Pipeline error debug: %s", debug)
			}
			if onFatal != nil {
				onFatal(gerr)
			}
		case gst.MessageWarning:
			logger.Warnf("Pipeline warning: %s", msg.ParseWarning().Error())
		case gst.MessageEOS:
			logger.Info("End of stream received")
			if onFatal != nil {
				onFatal(errors.New("gstreamer: end of stream"))
			}
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				logger.Debugf("Pipeline state changed: %s -> %s", oldState.String(), newState.String())
			}
		}
		return true
	})
}

func stopPipeline(pipeline *gst.Pipeline) error {
	pipeline.GetPipelineBus().RemoveWatch()
	return pipeline.BlockSetState(gst.StateNull)
}
