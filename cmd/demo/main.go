// Command demo drives a single CMP polish station statechart end-to-end:
// idle -> polishing -> rinsing -> idle, publishing each transition, printing
// the active states on every tick, and rendering the graph as Graphviz DOT
// once at the end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
	"github.com/cmpforge/statefabric/internal/production"
)

func buildStationGraph() (primitives.MachineConfig, error) {
	root := primitives.NewStateConfig("station", primitives.Compound).WithInitial("idle")
	b := primitives.NewMachineBuilder("station-1", root)
	b.Root().
		Atomic("idle").
		Transition("LOAD_WAFER", primitives.TransitionConfig{Targets: []string{"station.polishing"}, Actions: []string{"logWaferLoaded"}}).
		Up().
		Atomic("polishing").
		Entry("startSlurryFlow").
		Exit("stopSlurryFlow").
		After(5000, primitives.TransitionConfig{Targets: []string{"station.rinsing"}}).
		Up().
		Atomic("rinsing").
		Entry("startRinse").
		After(2000, primitives.TransitionConfig{Targets: []string{"station.idle"}, Actions: []string{"logWaferComplete"}})

	return b.Build()
}

func main() {
	graph, err := buildStationGraph()
	if err != nil {
		panic(err)
	}

	persister, err := production.NewJSONPersister("/tmp/statefabric-demo")
	if err != nil {
		panic(err)
	}

	publishChan := make(chan production.PublishedEvent, 100)
	publisher := production.NewChannelPublisher(publishChan)
	visualizer := &production.DefaultVisualizer{}

	actions := core.ActionTable{
		"logWaferLoaded":   func(ac core.ActionContext) { fmt.Println("wafer loaded, polish cycle starting") },
		"startSlurryFlow":  func(ac core.ActionContext) { fmt.Println("slurry flow: on") },
		"stopSlurryFlow":   func(ac core.ActionContext) { fmt.Println("slurry flow: off") },
		"startRinse":       func(ac core.ActionContext) { fmt.Println("rinse: on") },
		"logWaferComplete": func(ac core.ActionContext) { fmt.Println("wafer polish cycle complete") },
	}

	m, err := core.NewMachine("station-1", graph, actions, core.GuardTable{},
		core.WithPersister(persister),
		core.WithPublisher(publisher),
		core.WithVisualizer(visualizer),
	)
	if err != nil {
		panic(err)
	}

	if err := m.Start(); err != nil {
		panic(err)
	}
	defer m.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if err := m.Send(primitives.NewEvent("LOAD_WAFER", nil)); err != nil {
		fmt.Printf("send error: %v\n", err)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for cycles := 0; cycles < 15; cycles++ {
		select {
		case <-ticker.C:
			fmt.Printf("\n--- tick %d: active=%v ---\n", cycles+1, m.Current())
			select {
			case pubEvent := <-publishChan:
				fmt.Printf("published: %s -> %v (%s)\n", pubEvent.Metadata.MachineID, pubEvent.Metadata.To, pubEvent.Event.Type)
			default:
			}
		case <-sig:
			fmt.Println("\nshutting down")
			return
		}
	}

	fmt.Println("\nfinal DOT:")
	fmt.Println(m.Visualize())

	if err := persister.Save(context.Background(), m.Snapshot()); err != nil {
		fmt.Printf("save error: %v\n", err)
	}
}
