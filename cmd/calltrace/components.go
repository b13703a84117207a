package main

import (
	"time"

	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/clockz"
)

// Simulated cost of component work.
const (
	listRenderCost  = 6 * time.Millisecond
	listUpdateCost  = 500 * time.Microsecond
	chartLoadCost   = 3 * time.Millisecond
	chartDrawCost   = 2 * time.Millisecond
	spinnerTickCost = 4 * time.Millisecond
	appCreateCost   = time.Millisecond
)

// newComponent returns a method set exposing the loop's scheduling
// primitives, with debounce keys private to id.
func newComponent(loop *eventLoop, id string) *calltrace.MethodSet {
	return calltrace.NewMethodSet().
		Define(calltrace.MethodDebounce, calltrace.Debounce(loop.debouncer(id))).
		Define(calltrace.MethodAsync, calltrace.Async(loop.async)).
		Define(calltrace.MethodListen, calltrace.Listen(loop.listen))
}

func work(clock clockz.Clock, d time.Duration) func(...any) any {
	return func(...any) any {
		clock.Sleep(d)
		return nil
	}
}

// buildApp wires an application shell owning a list, a chart and a
// third-party spinner. Creating the shell creates its children.
func buildApp(tracer *calltrace.Tracer, loop *eventLoop, clock clockz.Clock) *calltrace.MethodSet {
	list := newComponent(loop, "list")
	list.Define("render", work(clock, listRenderCost))
	list.Define("update", func(...any) any {
		clock.Sleep(listUpdateCost)
		list.Call(calltrace.MethodDebounce, "render", func() { list.Call("render") }, 10*time.Millisecond)
		return nil
	})
	list.Define("created", func(...any) any {
		list.Call("render")
		return nil
	})
	tracer.Register(calltrace.Registration{
		Target:    list,
		Kind:      "x-list",
		ID:        "list",
		Path:      "/app/components/list.go",
		Lifecycle: "created",
		Methods:   []calltrace.Key{"render", "update"},
	})

	chart := newComponent(loop, "chart")
	chart.Define("draw", work(clock, chartDrawCost))
	chart.Define("load", func(...any) any {
		clock.Sleep(chartLoadCost)
		chart.Call(calltrace.MethodDebounce, "draw", func() { chart.Call("draw") }, 5*time.Millisecond)
		return nil
	})
	chart.Define("created", func(...any) any {
		chart.Call(calltrace.MethodAsync, func() { chart.Call("load") }, time.Duration(0))
		return nil
	})
	tracer.Register(calltrace.Registration{
		Target:    chart,
		Kind:      "x-chart",
		ID:        "chart",
		Path:      "/app/components/chart.go",
		Lifecycle: "created",
		Methods:   []calltrace.Key{"load", "draw"},
	})

	// Excluded by the default policy; it runs untraced.
	spinner := newComponent(loop, "spinner")
	spinner.Define("tick", work(clock, spinnerTickCost))
	spinner.Define("created", func(...any) any {
		spinner.Call(calltrace.MethodAsync, func() { spinner.Call("tick") }, 20*time.Millisecond)
		return nil
	})
	tracer.Register(calltrace.Registration{
		Target:    spinner,
		Kind:      "x-spinner",
		ID:        "spinner",
		Path:      "/app/vendor/spinner/spinner.go",
		Lifecycle: "created",
		Methods:   []calltrace.Key{"tick"},
	})

	app := newComponent(loop, "app")
	app.Define("created", func(...any) any {
		clock.Sleep(appCreateCost)
		list.Call("created")
		chart.Call("created")
		spinner.Call("created")
		app.Call(calltrace.MethodListen, "resize", func(any) {
			list.Call("update")
			chart.Call("load")
		})
		return nil
	})
	tracer.Register(calltrace.Registration{
		Target:    app,
		Kind:      "x-app",
		ID:        "app",
		Path:      "/app/main.go",
		Lifecycle: "created",
	})
	return app
}
