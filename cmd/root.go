// Package cmd is the CLI surface of danzo-crawl, following the teacher's
// cmd/root.go cobra layout (a single root command carrying every flag,
// dispatching into the internal packages rather than a subcommand tree).
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzo-crawl/internal/blacklist"
	"github.com/tanq16/danzo-crawl/internal/coordinator"
	"github.com/tanq16/danzo-crawl/internal/dnscache"
	"github.com/tanq16/danzo-crawl/internal/errkind"
	"github.com/tanq16/danzo-crawl/internal/fetch"
	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/httpclient"
	"github.com/tanq16/danzo-crawl/internal/input"
	"github.com/tanq16/danzo-crawl/internal/queue"
	"github.com/tanq16/danzo-crawl/internal/stats"
	"github.com/tanq16/danzo-crawl/utils"
)

// DanzoCrawlVersion is set at link time via -ldflags, mirroring the
// teacher's DanzoVersion.
var DanzoCrawlVersion = "dev"

var (
	inputFile      string
	forceInputType string
	recursive      bool
	level          int
	noParent       bool
	spanHosts      bool
	includeHosts   []string
	excludeDomains []string
	httpsOnly      bool
	httpsEnforce   string
	pageReqs       bool
	maxRedirect    int
	tries          int
	wait           time.Duration
	waitRetry      time.Duration
	randomWait     bool
	chunkSize      int64
	metalinkMode   bool
	timestamping   bool
	continueDL     bool
	noClobber      bool
	quota          int64
	threads        int
	dnsTimeout     time.Duration
	connectTimeout time.Duration
	readTimeout    time.Duration
	userAgent      string
	referer        string
	headers        []string
	username       string
	password       string
	robotsEnabled  bool
	spider         bool
	outputDir      string
	debug          bool
)

var rootCmd = &cobra.Command{
	Use:     "danzo-crawl [URL...]",
	Short:   "danzo-crawl is a recursive, multi-threaded web downloader",
	Version: DanzoCrawlVersion,
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		log := utils.GetLogger("cmd")

		if len(args) == 0 && inputFile == "" {
			return fmt.Errorf("no seed URL, and no --input-file/-i provided")
		}

		force := input.ForceParse(forceInputType)
		switch force {
		case input.ForceNone, input.ForceHTML, input.ForceCSS, input.ForceSitemap:
		default:
			return fmt.Errorf("invalid --force value %q, want html, css, or sitemap", forceInputType)
		}

		hosts := hostregistry.New(robotsEnabled)
		q := queue.New(hosts)
		bl := blacklist.New()

		resolver := dnscache.New(dnscache.NewSystemBackend())
		clients := httpclient.New(resolver, httpclient.Config{
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
			DNSTimeout:     dnsTimeout,
			HTTPSOnly:      httpsOnly,
			UserAgent:      userAgent,
		})

		sink := stats.NewTerminal(os.Stderr)

		cfg := fetch.Config{
			Recursive:      recursive,
			MaxLevel:       level,
			NoParent:       noParent,
			SpanHosts:      spanHosts,
			IncludeHosts:   toSet(includeHosts),
			ExcludeDomains: toSet(excludeDomains),
			HTTPSOnly:      httpsOnly,
			HTTPSEnforce:   httpsEnforce == "hard",
			PageRequisites: pageReqs,
			MaxRedirects:   maxRedirect,
			Tries:          tries,
			Wait:           wait,
			WaitRetry:      waitRetry,
			RandomWait:     randomWait,
			ChunkSize:      chunkSize,
			MetalinkMode:   metalinkMode,
			Timestamping:   timestamping,
			NoClobber:      noClobber,
			Continue:       continueDL,
			Quota:          quota,
			UserAgent:      userAgent,
			Referer:        referer,
			Headers:        utils.ParseHeaderArgs(headers),
			Username:       username,
			Password:       password,
			RobotsEnabled:  robotsEnabled,
			Spider:         spider,
			OutputDir:      outputDir,
		}

		pool := fetch.NewPool(cfg, q, hosts, bl, clients, sink, utils.GetLogger("fetch"))
		driver := input.New(pool, utils.GetLogger("input"))
		ctrl := coordinator.New(coordinator.Config{
			Workers: threads,
			Quota:   quota,
		}, pool, driver, utils.GetLogger("coordinator"))

		status, err := ctrl.Run(context.Background(), args, inputFile, force)
		if err != nil {
			log.Error().Err(err).Msg("run failed")
			if status == 0 {
				status = errkind.ExitStatus(map[errkind.Kind]bool{errkind.KindParse: true})
			}
		}
		sink.Close()
		if status != 0 {
			os.Exit(status)
		}
		return nil
	},
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[strings.ToLower(strings.TrimSpace(i))] = true
	}
	return set
}

// Execute runs the root command, matching the teacher's cmd.Execute entry
// point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&inputFile, "input-file", "i", "", "Read seed URLs from FILE, or \"-\" for stdin")
	flags.StringVar(&forceInputType, "force", "", "Force --input-file to be parsed as: html, css, or sitemap, instead of a URL list")

	flags.BoolVarP(&recursive, "recursive", "r", false, "Recursively follow discovered links")
	flags.IntVarP(&level, "level", "l", 5, "Maximum recursion depth")
	flags.BoolVar(&noParent, "no-parent", false, "Never ascend to the parent directory of the seed URL")
	flags.BoolVarP(&spanHosts, "span-hosts", "H", false, "Allow recursion to hosts other than the seed hosts")
	flags.StringArrayVar(&includeHosts, "domains", nil, "Additional host allowed for recursion even with --span-hosts off (repeatable)")
	flags.StringArrayVarP(&excludeDomains, "exclude-domains", "D", nil, "Host excluded from recursion (repeatable)")
	flags.BoolVar(&httpsOnly, "https-only", false, "Only follow https:// links")
	flags.StringVar(&httpsEnforce, "https-enforce", "none", "HTTPS fallback policy: none and soft retry a failed TLS handshake once over http; hard never falls back")
	flags.BoolVarP(&pageReqs, "page-requisites", "p", false, "At the maximum recursion depth, follow only inline page requisites, not navigation links")
	flags.IntVar(&maxRedirect, "max-redirect", 20, "Maximum redirects to follow per job")

	flags.IntVarP(&tries, "tries", "t", 3, "Total attempts for a transient failure before giving up on a job")
	flags.DurationVarP(&wait, "wait", "w", 0, "Pause between successive requests")
	flags.DurationVar(&waitRetry, "waitretry", time.Second, "Pause before retrying a failed request")
	flags.BoolVar(&randomWait, "random-wait", false, "Add a random extra pause of up to one --wait after the --wait pacing")

	flags.Int64Var(&chunkSize, "chunk-size", 0, "Split downloads larger than this many bytes into ranged parts (0 disables chunking)")
	flags.BoolVar(&metalinkMode, "metalink", false, "Accepted but has no effect: a fetched Metalink document is saved like any other response")

	flags.BoolVarP(&timestamping, "timestamping", "N", false, "Skip re-download when the remote file is not newer (If-Modified-Since)")
	flags.BoolVar(&continueDL, "continue", false, "Resume a partially downloaded file with a Range request")
	flags.BoolVar(&noClobber, "no-clobber", false, "Never overwrite an existing local file")
	flags.Int64Var(&quota, "quota", 0, "Close the input once this many bytes are downloaded; queued jobs and their discovered links still run (0 disables the quota)")

	// -c is the teacher's --connections shorthand; --continue stays long-only
	// to avoid the collision (SPEC_FULL.md §6 Open Question resolution).
	flags.IntVar(&threads, "threads", 4, "Number of worker goroutines")
	flags.IntVarP(&threads, "connections", "c", 4, "Alias of --threads, for parity with the teacher's -c/--connections flag")
	flags.MarkHidden("connections")

	flags.DurationVar(&dnsTimeout, "dns-timeout", 5*time.Second, "DNS resolution timeout")
	flags.DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "TCP connect timeout")
	flags.DurationVar(&readTimeout, "read-timeout", 30*time.Second, "Socket read timeout")

	flags.StringVarP(&userAgent, "user-agent", "a", "danzo-crawl/"+DanzoCrawlVersion, "User agent string")
	flags.StringVar(&referer, "referer", "", "Referer header for seed requests")
	flags.StringArrayVar(&headers, "header", nil, "Custom header 'Key: Value' (repeatable)")

	flags.StringVar(&username, "user", "", "Username for HTTP authentication")
	flags.StringVar(&password, "password", "", "Password for HTTP authentication")

	flags.BoolVar(&robotsEnabled, "robots", true, "Honor robots.txt")
	flags.BoolVar(&spider, "spider", false, "Spider mode: issue HEAD requests, never save bodies")

	flags.StringVarP(&outputDir, "output-dir", "o", "./danzo-crawl-out", "Directory to save downloaded files under")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
}
