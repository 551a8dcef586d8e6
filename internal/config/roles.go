package config

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RoleMappingHolder keeps provider role overrides loaded from roles.yml.
// Keys are lower-cased provider role names, values are local roles.
type RoleMappingHolder struct {
	current atomic.Value // holds map[string]string
}

func NewRoleMappingHolder() (*RoleMappingHolder, error) {
	v := viper.New()

	v.SetConfigName("roles")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/kovra/config")
	v.AddConfigPath("/etc/kovra")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KOVRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &RoleMappingHolder{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(map[string]string{})
		return holder, nil
	}

	mapping, err := readRoleMapping(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(mapping)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readRoleMapping(v)
		if err != nil {
			log.Printf("[role-mapping] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[role-mapping] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Get returns the current overrides. A nil holder yields an empty map.
func (h *RoleMappingHolder) Get() map[string]string {
	if h == nil {
		return nil
	}
	mapping, _ := h.current.Load().(map[string]string)
	return mapping
}

func readRoleMapping(v *viper.Viper) (map[string]string, error) {
	raw := v.GetStringMapString("roles.mapping")
	mapping := normalizeRoleMapping(raw)
	for from, to := range mapping {
		if to == "" {
			return nil, fmt.Errorf("roles.mapping.%s has empty target", from)
		}
	}
	return mapping, nil
}

func normalizeRoleMapping(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for from, to := range raw {
		key := strings.ToLower(strings.TrimSpace(from))
		if key == "" {
			continue
		}
		out[key] = strings.ToUpper(strings.TrimSpace(to))
	}
	return out
}
