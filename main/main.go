package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/natefinch/lumberjack"

	"github.com/phil-mansfield/dustgrid"
	"github.com/phil-mansfield/dustgrid/catalog"
	"github.com/phil-mansfield/dustgrid/io"
	"github.com/phil-mansfield/dustgrid/mesh"
)

func main() {
	var grid, exampleConfig string
	vars := map[string]*string{
		"Grid":          &grid,
		"ExampleConfig": &exampleConfig,
	}

	flag.StringVar(
		&grid, "Grid", "", "Configuration file for [Grid] mode.",
	)
	flag.StringVar(
		&exampleConfig,
		"ExampleConfig", "", "Prints an example configuration file of the "+
			"specified type to stdout. The only accepted argument is 'Grid'.",
	)

	flag.Parse()

	modeName, err := getModeName(vars)
	if err != nil {
		log.Fatal(err.Error())
	}

	switch modeName {
	case "Grid":
		con, err := io.ReadGridConfig(grid)
		if err != nil {
			log.Fatal(err.Error())
		}
		var logger *lumberjack.Logger
		if con.ValidLogFile() {
			logger = setupLog(con)
		}
		err = gridMain(con)
		if err != nil {
			log.Print(err.Error())
		}
		if logger != nil {
			logger.Close()
		}
		if err != nil {
			os.Exit(1)
		}

	case "ExampleConfig":
		switch exampleConfig {
		case "Grid":
			fmt.Println(io.ExampleGridFile)
		default:
			log.Fatal(
				"Unrecognized 'ExampleConfig' argument. The only recognized " +
					"argument is 'Grid'.",
			)
		}
	default:
		panic("Impossible")
	}
}

func getModeName(vars map[string]*string) (string, error) {
	setNames := []string{}

	for name, varPtr := range vars {
		if *varPtr != "" {
			setNames = append(setNames, name)
		}
	}
	sort.Strings(setNames)

	if len(setNames) == 0 {
		return "", fmt.Errorf("No flags have been set.")
	}

	if len(setNames) > 1 {
		return "", fmt.Errorf(
			"The following flags were set: %s, but dustgrid "+
				"only accepts one flag at a time.",
			strings.Join(setNames, ", "),
		)
	}

	return setNames[0], nil
}

// setupLog sends the standard logger to a rotating log file.
func setupLog(con *io.GridConfig) *lumberjack.Logger {
	logger := &lumberjack.Logger{
		Filename: con.LogFile,
		MaxSize:  con.LogMaxSize,
		MaxAge:   con.LogMaxAge,
	}
	log.SetOutput(logger)
	return logger
}

func gridMain(con *io.GridConfig) error {
	cols, err := con.Columns()
	if err != nil {
		return err
	}
	cfg, err := con.ManagerConfig()
	if err != nil {
		return err
	}
	if con.Log {
		cfg.Reporter = mesh.LogReporter{}
	}

	man, err := dustgrid.NewManager(cfg)
	if err != nil {
		return err
	}

	if con.Log {
		log.Printf("Reading catalog %s", con.Input)
	}
	cat, err := catalog.ReadText(con.Input, cols)
	if err != nil {
		return err
	}

	m, err := man.Run(cat)
	if err != nil {
		return err
	}

	if err := io.WriteMesh(con.Output, m, con.Compress); err != nil {
		return err
	}
	if con.Log {
		log.Printf("Wrote %s", con.Output)
	}
	return nil
}
