package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/usnistgov/nvxinlet"
	"gopkg.in/natefinch/lumberjack.v2"
)

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}

	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	} else if err != nil {
		return "", err
	}
	return fullname, nil
}

// dotDir returns the per-user directory holding the config file and logs.
func dotDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nvxinlet"), nil
}

// setupViper says where to find the config file, creating an empty one in
// dir if needed, reads it and sets defaults for every key the program uses.
func setupViper(v *viper.Viper, dir string) error {
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dir, filename+suffix); err != nil {
		return err
	}

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.FromSlash("/etc/nvxinlet"))
	v.AddConfigPath(dir)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	nvxinlet.SetDefaults(v)
	setDefaults(v)
	return nil
}

// Config keys used by the command but not by the inlet itself.
const (
	keyPullInterval = "acquire.pullinterval"
	keyPublish      = "publish.endpoint"
	keyMetrics      = "metrics.listen"
	keyDBAddr       = "rundb.addr"
	keyDBName       = "rundb.database"
	keyDBTimeout    = "rundb.timeout"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyPullInterval, "100ms")
	v.SetDefault(keyPublish, "")
	v.SetDefault(keyMetrics, "")
	v.SetDefault(keyDBAddr, []string{})
	v.SetDefault(keyDBName, "nvxinlet")
	v.SetDefault(keyDBTimeout, "5s")
}

// startLogger returns a logger writing to the size-rotated file pfname.
func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

// startLogging points the problem and update loggers at files in dir/logs.
func startLogging(dir string) (problems, updates string, err error) {
	logdir := filepath.Join(dir, "logs")
	if problems, err = makeFileExist(logdir, "problems.log"); err != nil {
		return
	}
	if updates, err = makeFileExist(logdir, "updates.log"); err != nil {
		return
	}
	nvxinlet.ProblemLogger = startLogger(problems)
	nvxinlet.UpdateLogger = startLogger(updates)
	return
}

// bindFlags makes each named flag, when given on the command line, override
// the config key it is mapped from. Bindings are made when a command runs,
// since commands share flag names but viper holds one binding per key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
