package log

import (
	"runtime"

	"github.com/rs/zerolog"
)

type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.ErrorLevel {
		return
	}

	arr := zerolog.Arr()
	for _, f := range frames(5) {
		arr.Dict(zerolog.Dict().
			Int("line", f.Line).
			Str("file", f.File).
			Str("function", f.Function),
		)
	}
	e.Array("stack", arr)
}

type frame struct {
	Line     int
	File     string
	Function string
}

func frames(skip int) []frame {
	const depth = 64
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}
	callers := runtime.CallersFrames(pcs[:n])
	fs := make([]frame, 0, n)
	for {
		f, ok := callers.Next()
		fs = append(fs, frame{
			Line:     f.Line,
			File:     f.File,
			Function: f.Function,
		})
		if !ok {
			break
		}
	}

	return fs
}
