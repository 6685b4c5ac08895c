/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command flowmesh runs the flows of a settings file and serves the admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rulego/flowmesh/api/server"
	"github.com/rulego/flowmesh/config"
)

var (
	port     int
	logfile  string
	ver      bool
	confFile string
	stopWait time.Duration
)

func init() {
	flag.StringVar(&confFile, "config", "", "Location of the settings file (.yaml, .yml or .json).")
	flag.IntVar(&port, "port", 9090, "The port of the admin API. 0 disables it.")
	flag.StringVar(&logfile, "logfile", "", "Location of the logfile.")
	flag.BoolVar(&ver, "version", false, "Print server version.")
	flag.DurationVar(&stopWait, "stopTimeout", 30*time.Second, "How long to wait for in-flight events on shutdown.")
}

func main() {
	flag.Parse()

	if ver {
		fmt.Printf("flowmesh v%s\n", server.Version)
		os.Exit(0)
	}

	var logger *log.Logger
	if logfile == "" {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	} else {
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	if confFile == "" {
		fmt.Println("no settings file, set the flag of config")
		os.Exit(2)
	}
	settings, err := config.FromFile(confFile)
	if err != nil {
		logger.Fatal("load settings error:", err)
	}
	ctx := context.Background()
	boot, err := config.Load(ctx, settings, logger)
	if err != nil {
		logger.Fatal("deploy flows error:", err)
	}
	if err := boot.Start(); err != nil {
		logger.Printf("start flows error: %v", err)
	}
	logger.Printf("server initialised, %d flows", len(boot.Flows))

	var admin *http.Server
	if port > 0 {
		admin = &http.Server{Addr: ":" + strconv.Itoa(port), Handler: server.New(boot.Runtime)}
		go func() {
			logger.Printf("starting admin server on :%d", port)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("ListenAndServe: ", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Printf("received %s, shutting down", sig)

	stopCtx, cancel := context.WithTimeout(ctx, stopWait)
	defer cancel()
	if admin != nil {
		_ = admin.Shutdown(stopCtx)
	}
	if err := boot.Stop(stopCtx); err != nil {
		logger.Printf("stop flows error: %v", err)
	}
}
