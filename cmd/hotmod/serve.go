/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package hotmod

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hotmod.dev/hmr/devserver"
	"hotmod.dev/hmr/graph"
	"hotmod.dev/hmr/internal/logging"
	"hotmod.dev/hmr/transformhost"
	"hotmod.dev/hmr/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve <entry>",
	Short: "Serve entry's module graph with hot-module replacement",
	Long: `Serve starts an HTTP + WebSocket dev server rooted at --root,
transforming and serving entry's full dependency graph, and pushing
accept/reload/error events to connected clients as files change.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8000, "Port to serve on")
	serveCmd.Flags().String("root", ".", "Directory module URLs are resolved against")
	serveCmd.Flags().String("target", "es2022", "Transform target (es2015-es2023, esnext)")
	serveCmd.Flags().Duration("debounce", graph.DefaultDebounce, "File-change coalescing window")

	for _, name := range []string{"port", "root", "target", "debounce"} {
		if err := viper.BindPFlag("serve."+name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag serve.%s: %v", name, err))
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	entry := args[0]
	if entry[0] != '/' {
		entry = "/" + entry
	}

	rootDir, err := expandPath(viper.GetString("serve.root"))
	if err != nil {
		return fmt.Errorf("invalid --root: %w", err)
	}
	port := viper.GetInt("serve.port")
	target := transformhost.Target(viper.GetString("serve.target"))
	debounce := viper.GetDuration("serve.debounce")

	verbose := viper.GetBool("verbose")
	logger := logging.New()
	logger.SetDebugEnabled(verbose)

	engine := transformhost.NewEngine(transformhost.EngineConfig{
		RootDir: rootDir,
		Target:  target,
		Logger:  logger,
	})
	defer engine.Close()

	fsWatcher, err := watch.New(debounce, logger)
	if err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}
	moduleWatch := newModuleWatcher(fsWatcher, rootDir)
	defer moduleWatch.Close()

	runtime := graph.NewRuntime(nil, moduleWatch, logger, debounce)
	defer runtime.Close()

	builder := transformhost.NewDeclarationBuilder(engine, runtime)
	runtime.SetHost(&host{Engine: engine, dynamicImporter: newDynamicImporter(engine, builder, runtime)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entryCtrl := runtime.Acquire(entry)
	decl, err := builder.Build(ctx, entry, false)
	if err != nil {
		return fmt.Errorf("build entry declaration for %s: %w", entry, err)
	}
	entryCtrl.Load(decl)

	if err := runtime.Main(ctx, entry); err != nil {
		return fmt.Errorf("boot entry %s: %w", entry, err)
	}
	logger.Success("Booted %s", entry)

	devSrv := devserver.NewServer(engine, logger)
	runtime.Subscribe(func(result graph.UpdateResult) {
		if err := devSrv.PublishUpdateResult(result); err != nil {
			logger.Warning("devserver: failed to publish update: %v", err)
		}
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: devSrv.Handler(),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server: %v", err)
		}
	}()

	logger.Info("Serving %s on http://localhost:%d", rootDir, port)
	pterm.Success.Printf("hotmod dev server running on http://localhost:%d\n", port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	_ = devSrv.Shutdown(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}
