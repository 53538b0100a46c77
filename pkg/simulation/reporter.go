package simulation

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// Reporter provides formatted output for simulation results
type Reporter struct {
	executor *SimulationExecutor
	Out      io.Writer
}

// NewReporter creates a new simulation reporter writing to stdout
func NewReporter(executor *SimulationExecutor) *Reporter {
	return &Reporter{
		executor: executor,
		Out:      os.Stdout,
	}
}

// PrintSummary outputs a concise summary of simulation results
func (r *Reporter) PrintSummary() {
	state := r.executor.GetState()
	ops := r.executor.GetOperations()

	fmt.Fprintln(r.Out, "\n"+r.separator())
	fmt.Fprintln(r.Out, "[SIMULATION] Summary Report")
	fmt.Fprintln(r.Out, r.separator())

	opTypes := make(map[string]int)
	for _, op := range ops {
		opTypes[op.Type]++
	}

	fmt.Fprintln(r.Out, "\n[SIMULATION] Operations Summary:")
	for _, opType := range sortedKeys(opTypes) {
		fmt.Fprintf(r.Out, "[SIMULATION]   %-20s: %d\n", opType, opTypes[opType])
	}
	fmt.Fprintf(r.Out, "[SIMULATION]   %-20s: %d\n", "Total", len(ops))

	replicaSet := "none"
	if state.ReplicaSet != nil {
		replicaSet = fmt.Sprintf("%s (%d member(s))", state.ReplicaSet.Name, len(state.ReplicaSet.Members))
	}
	fmt.Fprintln(r.Out, "\n[SIMULATION] Resulting Node State:")
	fmt.Fprintf(r.Out, "[SIMULATION]   Replica set         : %s\n", replicaSet)
	fmt.Fprintf(r.Out, "[SIMULATION]   Users               : %d\n", len(state.Users))

	duration := time.Since(state.StartTime)
	fmt.Fprintf(r.Out, "\n[SIMULATION] Simulation Duration  : %s\n", duration.Round(time.Millisecond))
	fmt.Fprintln(r.Out, "\n[SIMULATION] No actual changes were made to any server.")
	fmt.Fprintln(r.Out, r.separator())
}

// PrintDetailed outputs detailed operation log
func (r *Reporter) PrintDetailed() {
	ops := r.executor.GetOperations()
	start := r.executor.GetState().StartTime

	fmt.Fprintln(r.Out, "\n"+r.separator())
	fmt.Fprintln(r.Out, "[SIMULATION] Detailed Operation Log")
	fmt.Fprintln(r.Out, r.separator())

	for i, op := range ops {
		elapsed := op.Timestamp.Sub(start)
		fmt.Fprintf(r.Out, "\n[SIMULATION] [%03d] [%s] %s\n", i+1, elapsed.Round(time.Millisecond), op.Type)
		fmt.Fprintf(r.Out, "[SIMULATION]       Target: %s\n", op.Target)
		if op.Details != "" {
			fmt.Fprintf(r.Out, "[SIMULATION]       Details: %s\n", op.Details)
		}
		if op.Result != "success" {
			fmt.Fprintf(r.Out, "[SIMULATION]       Result: %s\n", op.Result)
			if op.Error != "" {
				fmt.Fprintf(r.Out, "[SIMULATION]       Error: %s\n", op.Error)
			}
		}
	}

	fmt.Fprintln(r.Out, "\n"+r.separator())
}

func (r *Reporter) separator() string {
	return "================================================================"
}

// GetOperationCount returns the total number of operations
func (r *Reporter) GetOperationCount() int {
	return len(r.executor.GetOperations())
}

// HasErrors returns true if any operations failed
func (r *Reporter) HasErrors() bool {
	return len(r.GetErrors()) > 0
}

// GetErrors returns all failed operations
func (r *Reporter) GetErrors() []Operation {
	errors := make([]Operation, 0)
	for _, op := range r.executor.GetOperations() {
		if op.Result != "success" {
			errors = append(errors, op)
		}
	}
	return errors
}

// PrintErrors prints all errors encountered
func (r *Reporter) PrintErrors() {
	errors := r.GetErrors()
	if len(errors) == 0 {
		return
	}

	fmt.Fprintln(r.Out, "\n[SIMULATION] Errors Encountered:")
	for i, op := range errors {
		fmt.Fprintf(r.Out, "[SIMULATION]   [%d] %s: %s\n", i+1, op.Type, op.Error)
		fmt.Fprintf(r.Out, "[SIMULATION]       Target: %s\n", op.Target)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
