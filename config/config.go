package config

import (
	"fmt"
	"strings"

	"github.com/42wim/autoacceptd/bridge"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// autoAcceptKeys are the keys of the [autoaccept] section and whether they
// hold a boolean.
var autoAcceptKeys = map[string]bool{
	"accept_invites_only_for_direct_messages":          true,
	"accept_invites_only_from_local_users":             true,
	"accept_invites_only_from_previously_knocked_rooms": true,
	"worker_to_run_on":                                 false,
}

var Logger = logrus.WithFields(logrus.Fields{"prefix": "config"})

// LoadConfig reads cfgfile. Every key can be overridden from the
// environment, e.g. AUTOACCEPTD_MATRIX_HSTOKEN for matrix.hstoken. The
// file is read once: the invite policy doesn't change while running.
func LoadConfig(cfgfile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(cfgfile)

	v.SetEnvPrefix("autoacceptd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// use environment variables
	v.AutomaticEnv()

	v.SetDefault("bind", "127.0.0.1:9000")
	v.SetDefault("statedb", "autoacceptd.db")
	v.SetDefault("matrix.sender", "autoaccept")
	v.SetDefault("matrix.clientcache", 256)
	v.SetDefault("transactionretention", "168h")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s", err)
	}

	Logger.Infof("Using config file %s", v.ConfigFileUsed())

	return v, nil
}

func Credentials(v *viper.Viper) bridge.Credentials {
	return bridge.Credentials{
		Server:     v.GetString("matrix.server"),
		ServerName: v.GetString("matrix.servername"),
		ASToken:    v.GetString("matrix.astoken"),
		HSToken:    v.GetString("matrix.hstoken"),
		Sender:     v.GetString("matrix.sender"),
	}
}

// AutoAccept returns the [autoaccept] section with environment overrides
// applied. viper doesn't merge the environment into GetStringMap, so the
// known keys are looked up one by one.
func AutoAccept(v *viper.Viper) map[string]interface{} {
	section := make(map[string]interface{})
	for key, val := range v.GetStringMap("autoaccept") {
		section[key] = val
	}

	for key, isBool := range autoAcceptKeys {
		if !v.IsSet("autoaccept." + key) {
			continue
		}

		val := v.Get("autoaccept." + key)

		// the environment only carries strings
		if s, ok := val.(string); ok && isBool {
			if b, err := cast.ToBoolE(s); err == nil {
				val = b
			}
		}

		section[key] = val
	}

	return section
}
