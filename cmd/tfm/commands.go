package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shimomut/tfm/internal/vpath"
)

func resolvePaths(a *app, uris []string) ([]vpath.Path, error) {
	out := make([]vpath.Path, 0, len(uris))
	for _, u := range uris {
		p, err := a.registry.New(u)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func newLsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <uri>",
		Short: "list a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			p, err := a.registry.New(args[0])
			if err != nil {
				return err
			}
			it, err := p.Iterdir(ctx)
			if err != nil {
				return err
			}
			defer it.Close()
			for {
				child, ok, err := it.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				cp := vpath.FromBackend(child)
				st, err := cp.Stat(ctx)
				if err != nil {
					fmt.Println(cp.Name())
					continue
				}
				marker := ""
				if st.IsDir {
					marker = "/"
				}
				fmt.Printf("%10d  %s%s\n", st.Size, cp.Name(), marker)
			}
			return nil
		},
	}
}

func newCpCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src>... <dest-dir>",
		Short: "copy files, driven through the OperationTask state machine",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			srcs, err := resolvePaths(a, args[:len(args)-1])
			if err != nil {
				return err
			}
			dest, err := a.registry.New(args[len(args)-1])
			if err != nil {
				return err
			}
			c := newBlockingContainer()
			t := newcopy(a, c, srcs, dest)
			runBlocking(t, c)
			return nil
		},
	}
}

func newMvCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src>... <dest-dir>",
		Short: "move files, driven through the OperationTask state machine",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			srcs, err := resolvePaths(a, args[:len(args)-1])
			if err != nil {
				return err
			}
			dest, err := a.registry.New(args[len(args)-1])
			if err != nil {
				return err
			}
			c := newBlockingContainer()
			t := newmove(a, c, srcs, dest)
			runBlocking(t, c)
			return nil
		},
	}
}

func newRmCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uri>...",
		Short: "delete files, driven through the OperationTask state machine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			srcs, err := resolvePaths(a, args)
			if err != nil {
				return err
			}
			c := newBlockingContainer()
			t := newdelete(a, c, srcs)
			runBlocking(t, c)
			return nil
		},
	}
}

func newArchiveCmd(cfgPath *string) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "create or extract archives",
	}
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "create <format> <dest-archive> <src>...",
		Short: "create an archive (format: zip, tar, tar.gz, tar.bz2, tar.xz)",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			format, destURI, srcURIs := args[0], args[1], args[2:]
			srcs, err := resolvePaths(a, srcURIs)
			if err != nil {
				return err
			}
			dest, err := a.registry.New(destURI)
			if err != nil {
				return err
			}
			c := newBlockingContainer()
			t := newarchivecreate(a, c, srcs, dest, format)
			runBlocking(t, c)
			return nil
		},
	})
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "extract <archive> <dest-dir>",
		Short: "extract an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			archive, err := a.registry.New(args[0])
			if err != nil {
				return err
			}
			dest, err := a.registry.New(args[1])
			if err != nil {
				return err
			}
			c := newBlockingContainer()
			t := newarchiveextract(a, c, archive, dest)
			runBlocking(t, c)
			return nil
		},
	})
	return archiveCmd
}

func newCacheStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cache-stats",
		Short: "report ArchiveCache/S3Cache hit/miss/eviction counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			as := a.archiveCache.Stats()
			ss := a.s3Cache.Stats()
			fmt.Println("archive cache:")
			fmt.Println("  hits      " + strconv.FormatInt(as.Hits, 10))
			fmt.Println("  misses    " + strconv.FormatInt(as.Misses, 10))
			fmt.Println("  evictions " + strconv.FormatInt(as.Evictions, 10))
			fmt.Println("s3 cache:")
			fmt.Println("  hits      " + strconv.FormatInt(ss.Hits, 10))
			fmt.Println("  misses    " + strconv.FormatInt(ss.Misses, 10))
			fmt.Println("  evictions " + strconv.FormatInt(ss.Evictions, 10))
			return nil
		},
	}
}
