package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bathyreq/go-bathyreq/bathyreq"
)

func run() error {
	sourceStr := flag.String("source", "ncei", "Data source to query. Options are ncei, gebco.")
	requestTimeout := flag.Int("timeout", 60, "HTTP client timeout in seconds.")
	flag.Parse()

	if flag.NArg() != 2 {
		return errors.New("syntax: depth <longitude> <latitude>")
	}
	lon, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil {
		return err
	}
	lat, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		return err
	}

	client := bathyreq.NewClient(&bathyreq.ClientOptions{
		Source:  bathyreq.SourceID(*sourceStr),
		Timeout: time.Duration(*requestTimeout) * time.Second,
	})

	depth, err := client.GetPoint(context.Background(), lon, lat, nil)
	if err != nil {
		return err
	}

	fmt.Println(depth)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
