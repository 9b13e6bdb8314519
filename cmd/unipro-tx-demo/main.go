package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	unipro "github.com/fparent/unipro-tx-dma"
	atablfake "github.com/fparent/unipro-tx-dma/internal/atabl/fake"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	dmafake "github.com/fparent/unipro-tx-dma/internal/dma/fake"
	linkfake "github.com/fparent/unipro-tx-dma/internal/link/fake"
	"github.com/fparent/unipro-tx-dma/internal/logging"
)

func main() {
	var (
		chip      = flag.String("chip", "es3", "chip revision: es2 (software-chunked) or es3 (ATABL flow-controlled)")
		numCPorts = flag.Int("cports", 8, "number of simulated CPorts")
		numChans  = flag.Int("channels", 4, "number of DMA channels to request")
		numSends  = flag.Int("sends", 100, "number of payloads to push through the engine")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	es2, err := parseChip(*chip)
	if err != nil {
		log.Fatalf("invalid -chip %q: %v", *chip, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cports := make([]*cport.CPort, *numCPorts)
	for i := range cports {
		cports[i] = &cport.CPort{CPortID: uint32(i)}
	}
	dir := cport.NewStaticDirectory(cports)

	drivers := unipro.Drivers{
		DMA:       dmafake.New(*numChans),
		Link:      linkfake.New(),
		Directory: dir,
	}
	if !es2 {
		drivers.Atabl = atablfake.New(*numChans)
	}

	cfg := unipro.DefaultConfig()
	cfg.NumChannels = *numChans
	cfg.RevisionES2 = es2

	engine := unipro.NewEngine(cfg, drivers, unipro.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := engine.TxInit(ctx); err != nil {
		logger.Error("tx_init failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close(context.Background())

	logger.Info("engine initialized", "chip", *chip, "cports", *numCPorts, "channels", *numChans)
	fmt.Printf("unipro-tx-demo: chip=%s cports=%d channels=%d\n", *chip, *numCPorts, *numChans)

	for i := 0; i < *numSends; i++ {
		if ctx.Err() != nil {
			break
		}
		payload := []byte(fmt.Sprintf("payload-%04d", i))
		cportid := uint32(i) % uint32(*numCPorts)

		sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
		err := engine.Send(sendCtx, cportid, payload)
		sendCancel()
		if err != nil {
			logger.Warn("send failed", "cport", cportid, "error", err)
		}
	}

	snap := engine.MetricsSnapshot()
	fmt.Printf("\n=== metrics ===\n")
	fmt.Printf("accepted:    %d\n", snap.DescriptorsAccepted)
	fmt.Printf("completed:   %d\n", snap.DescriptorsCompleted)
	fmt.Printf("canceled:    %d\n", snap.DescriptorsCanceled)
	fmt.Printf("bytes:       %d\n", snap.BytesTransferred)
	fmt.Printf("chunks:      %d\n", snap.ChunksSubmitted)
	fmt.Printf("atabl rebinds: %d\n", snap.ATABLRebinds)
	fmt.Printf("avg latency: %dns\n", snap.AvgLatencyNs)
	fmt.Printf("p50/p99/p999 latency: %d/%d/%dns\n", snap.LatencyP50Ns, snap.LatencyP99Ns, snap.LatencyP999Ns)
	fmt.Printf("bandwidth:   %.1f B/s\n", snap.Bandwidth)
}

func parseChip(s string) (es2 bool, err error) {
	switch s {
	case "es2":
		return true, nil
	case "es3":
		return false, nil
	default:
		return false, fmt.Errorf("must be \"es2\" or \"es3\"")
	}
}
