package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/HCTech2/GOLD-HFT/broker"
	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/daemon"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/journal"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/ml"
	"github.com/HCTech2/GOLD-HFT/risk"
	"github.com/HCTech2/GOLD-HFT/status"
	"github.com/HCTech2/GOLD-HFT/strategy"
	"github.com/HCTech2/GOLD-HFT/web_interface"
	"github.com/HCTech2/GOLD-HFT/websocket"
)

func main() {
	// .env is optional; real deployments use environment or YAML
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config file")
	debugFlag := flag.Bool("debug", false, "enable debug logs")
	daemonStart := flag.Bool("start-daemon", false, "start the application as a daemon")
	daemonStop := flag.Bool("stop-daemon", false, "stop the daemon process")
	daemonRestart := flag.Bool("restart-daemon", false, "restart the daemon process")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration invalide: %v", err)
	}
	cfg.Debug = *debugFlag

	if *daemonStart || *daemonStop || *daemonRestart {
		args := withoutDaemonFlags(os.Args[1:])
		switch {
		case *daemonStart:
			err = daemon.StartDaemon(cfg.PidFile, args)
		case *daemonStop:
			err = daemon.StopDaemon(cfg.PidFile)
		case *daemonRestart:
			err = daemon.RestartDaemon(cfg.PidFile, args)
		}
		if err != nil {
			log.Fatalf("Commande daemon échouée: %v", err)
		}
		return
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = logging.DEBUG
	}
	logger, err := logging.NewLogger(cfg.LogFile, cfg.LogMaxSize, cfg.LogMaxBackups, cfg.LogMaxAge, cfg.LogCompress, level)
	if err != nil {
		log.Fatalf("Initialisation du logger impossible: %v", err)
	}

	logger.Info("GOLD-HFT démarrage | symbole %s | intervalle %dms", cfg.Symbol, cfg.AnalysisIntervalMs)
	if daemon.IsDaemon() {
		logger.Info("Processus lancé en mode daemon")
	}

	bridge := broker.NewRESTClient(cfg, logger)

	info, err := bridge.GetInstrumentInfo(cfg.Symbol)
	if err != nil {
		logger.Fatal("Instrument %s indisponible sur le bridge: %v", cfg.Symbol, err)
	}
	logger.Info("Instrument %s: min %.2f / max %.2f / pas %.2f / point %.5f",
		cfg.Symbol, info.MinVolume, info.MaxVolume, info.VolumeStep, info.Point)

	riskMgr := risk.NewManager(cfg, bridge, logger)

	var recommender *ml.Perceptron
	if cfg.MLEnabled {
		recommender = ml.NewPerceptron(logger)
		if err := recommender.Load(cfg.MLStateFile); err != nil {
			logger.Warning("État du modèle illisible (%s), démarrage non entraîné: %v", cfg.MLStateFile, err)
		}
	}

	var trdJournal *journal.FileJournal
	if cfg.JournalEnabled {
		trdJournal, err = journal.NewFileJournal(cfg.JournalFile, logger)
		if err != nil {
			logger.Fatal("Ouverture du journal impossible: %v", err)
		}
	}

	trader := newTrader(cfg, bridge, riskMgr, recommender, trdJournal, logger)
	trader.Positions.SetInstrument(info)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseTickStream {
		feed := websocket.NewFeed(cfg, logger)
		trader.SetTickStream(feed.Ticks())
		go feed.Run(ctx)
	}

	statusServer := status.NewServer(cfg.StatusAddr, trader.Snapshot, trader.DeactivateBreaker, logger)
	statusServer.Start()

	var webUI *web_interface.WebUI
	if cfg.WebUIEnabled {
		webUI = web_interface.NewWebUI(cfg.WebUIAddr, trader.Snapshot, logger)
		webUI.Start(ctx)
	}

	go trader.Positions.Run(ctx)
	go trader.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("Signal %s reçu, arrêt en cours", s)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = statusServer.Stop(shutdownCtx)
	if webUI != nil {
		_ = webUI.Stop(shutdownCtx)
	}
	if trdJournal != nil {
		_ = trdJournal.Close()
	}
	if recommender != nil && cfg.MLPersistOnStop {
		if err := recommender.Save(cfg.MLStateFile); err != nil {
			logger.Error("Sauvegarde du modèle impossible: %v", err)
		}
	}
	_ = logger.Sync()
	logger.Info("Arrêt terminé")
}

// newTrader keeps the nil-interface wiring in one place: a nil
// *Perceptron or *FileJournal must become a nil interface, not a typed
// nil.
func newTrader(cfg *config.Config, bridge *broker.RESTClient, riskMgr *risk.Manager, recommender *ml.Perceptron, trdJournal *journal.FileJournal, logger logging.LoggerInterface) *strategy.Trader {
	var rec interfaces.Recommender
	if recommender != nil {
		rec = recommender
	}
	var jrnl interfaces.TradeJournal
	if trdJournal != nil {
		jrnl = trdJournal
	}
	return strategy.NewTrader(cfg, bridge, riskMgr, rec, jrnl, logger)
}

func withoutDaemonFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-start-daemon" || a == "-stop-daemon" || a == "-restart-daemon" {
			continue
		}
		out = append(out, a)
	}
	return out
}
