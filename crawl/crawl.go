package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"

	extr "github.com/nci/rastercat/crawl/extractor"
	"github.com/nci/rastercat/crawl/gdalreader"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	densify := flag.Int("densify", extr.DefaultDensifyPoints, "points inserted along each footprint edge before reprojection")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide a path to a file or '-' for reading from stdin")
	}

	path := flag.Arg(0)

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		path = scanner.Text()
	}

	res := extr.NewExtractor(gdalreader.New(), *densify).Extract(path)
	switch res.Status {
	case extr.Failure:
		ensure(res.Err)
	case extr.Skip:
		log.Fatalf("%s: %v", path, res.Reason)
	}

	out, err := json.Marshal(res.Metadata)
	ensure(err)

	_, err = os.Stdout.Write(out)
	ensure(err)
}
