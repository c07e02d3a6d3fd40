// Command tfm is the non-interactive terminal driver standing in for the
// out-of-scope interactive dual-pane UI: it wires together the local/SSH/S3/
// archive backends, the caches, and the operation executors, then exercises
// them through a small set of cobra subcommands and terminal prompts.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/shimomut/tfm/internal/archivefs"
	"github.com/shimomut/tfm/internal/cacheinvalidate"
	"github.com/shimomut/tfm/internal/config"
	"github.com/shimomut/tfm/internal/ops"
	"github.com/shimomut/tfm/internal/progress"
	"github.com/shimomut/tfm/internal/s3cache"
	"github.com/shimomut/tfm/internal/task"
	"github.com/shimomut/tfm/internal/vpath"
	"github.com/shimomut/tfm/internal/vpath/archivepath"
	"github.com/shimomut/tfm/internal/vpath/localfs"
	"github.com/shimomut/tfm/internal/vpath/s3path"
	"github.com/shimomut/tfm/internal/vpath/sshfs"
)

// app bundles every wired component a subcommand needs.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	registry     *vpath.Registry
	archiveCache *archivefs.Cache
	s3Cache      *s3cache.Cache
	pm           *progress.Manager
	fileExec     *ops.FileExecutor
	archiveExec  *ops.ArchiveExecutor
	invalidator  *cacheinvalidate.Invalidator
}

func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := slog.Default()

	s3Cache := s3cache.New(cfg.S3Cache.MaxEntries, cfg.S3CacheTTL())

	reg := vpath.NewRegistry()
	localfs.Register(reg)

	sshMgr := sshfs.NewManager()
	sshfs.Register(reg, sshMgr, func(host string) sshfs.HostConfig {
		if h, ok := cfg.SSHHosts[host]; ok {
			return sshfs.HostConfig{HostName: host, User: h.User, Port: h.Port, KeyFile: h.KeyFile}
		}
		return sshfs.HostConfig{HostName: host}
	})

	awsCfg, err := loadAWSConfig(cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.ForcePathStyle
	})
	s3path.Register(reg, s3Client, s3Cache)

	// ReaderDownloader pulls a possibly-remote archive through the same
	// Registry/Path abstraction every other component uses, rather than a
	// second bespoke per-scheme fetch path.
	archiveCache := archivefs.NewCache(cfg.ArchiveCache.MaxOpen, cfg.ArchiveCacheTTL(), archivefs.ReaderDownloader{
		Open: func(archivePath string) (io.ReadCloser, error) {
			p, err := reg.New(archivePath)
			if err != nil {
				return nil, err
			}
			data, err := p.ReadBytes(context.Background())
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	})
	archivepath.Register(reg, archiveCache, true)

	pm := progress.NewManager()

	return &app{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		archiveCache: archiveCache,
		s3Cache:      s3Cache,
		pm:           pm,
		fileExec:     ops.NewFileExecutor(pm, log),
		archiveExec:  ops.NewArchiveExecutor(pm, archiveCache, log),
		invalidator:  cacheinvalidate.New(s3Cache, archiveCache),
	}, nil
}

func loadAWSConfig(s3cfg config.S3Config) (aws.Config, error) {
	ctx := context.Background()
	if s3cfg.Region != "" {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s3cfg.Region))
	}
	return awsconfig.LoadDefaultConfig(ctx)
}

// blockingContainer wraps terminalContainer so a CLI subcommand can block
// until the OperationTask it started returns to idle; there is no
// surrounding event loop here to resume the command after.
type blockingContainer struct {
	*terminalContainer
	done chan struct{}
}

func newBlockingContainer() *blockingContainer {
	return &blockingContainer{terminalContainer: newTerminalContainer(), done: make(chan struct{})}
}

func (c *blockingContainer) ClearTask() {
	close(c.done)
}

func runBlocking(t *task.OperationTask, c *blockingContainer) {
	t.Start()
	<-c.done
}

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:   "tfm",
		Short: "tfm exercises the core file/archive operations from a terminal",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to tfm.yaml")

	root.AddCommand(
		newLsCmd(&cfgPath),
		newCpCmd(&cfgPath),
		newMvCmd(&cfgPath),
		newRmCmd(&cfgPath),
		newArchiveCmd(&cfgPath),
		newCacheStatsCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tfm.yaml"
	}
	return filepath.Join(home, ".config", "tfm", "tfm.yaml")
}
