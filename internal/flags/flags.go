// Package flags declares command-line flags and binds them to viper keys so a
// flag, an environment variable and the config file all feed the same value.
package flags

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type (
	flagType interface {
		string | int | bool
	}

	// Def defines a command-line flag with the configuration key it overrides.
	Def[T flagType] struct {
		Name         string
		ViperKey     string
		DefaultValue T
		Description  string
	}
)

// Declare declares every flag on fs and binds it to its viper key.
func Declare[T flagType](fs *pflag.FlagSet, defs []Def[T]) error {
	for _, def := range defs {
		if err := declare(fs, def); err != nil {
			return err
		}
	}
	return nil
}

// MustDeclare is Declare for use from init functions.
func MustDeclare[T flagType](fs *pflag.FlagSet, defs []Def[T]) {
	if err := Declare(fs, defs); err != nil {
		panic(err)
	}
}

func declare[T flagType](fs *pflag.FlagSet, def Def[T]) error {
	switch v := any(def.DefaultValue).(type) {
	case string:
		fs.String(def.Name, v, def.Description)
	case int:
		fs.Int(def.Name, v, def.Description)
	case bool:
		fs.Bool(def.Name, v, def.Description)
	}

	if def.ViperKey == "" {
		return nil
	}
	if err := viper.BindPFlag(def.ViperKey, fs.Lookup(def.Name)); err != nil {
		return fmt.Errorf("failed to bind flag '%s' to '%s': %w", def.Name, def.ViperKey, err)
	}
	return nil
}
