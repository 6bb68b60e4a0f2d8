// Package process spawns and supervises the shell command behind an
// event source.
//
// A Supervisor starts each command through a shell in its own process
// group, with stdin attached to the null device, stderr always piped
// and stdout piped only when output is captured:
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.Spawn(ctx, process.Descriptor{
//	    Command:       "./emit-events",
//	    CaptureOutput: true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	go consume(proc.Stdout())
//	<-proc.CollectDiagnostics()
//	code, err := proc.Wait()
//
// # Stream ownership
//
// Each pipe has exactly one reader at a time. Stdout belongs to the
// caller until it stops reading; only then may DrainRemaining read what
// is left. Stderr is read by the collector started with
// CollectDiagnostics.
//
// Wait reaps the child, which closes both pipes, so it first waits for
// the stderr collector to reach end of stream. Callers that read stdout
// must finish before calling Wait.
//
// # Signals
//
// Terminate and Kill signal the whole process group, so helpers started
// by the shell stop with it. The exit code of a child ended by a signal
// is the negated signal number (-15 for SIGTERM).
package process
