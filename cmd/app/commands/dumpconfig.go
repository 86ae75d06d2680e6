package commands

import (
	"fmt"
	"strings"

	"github.com/mrscotty/keynanny/internal/config"
)

// RunDumpConfig prints the fully resolved configuration. Token passphrases
// are masked.
func RunDumpConfig(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("namespace        = %s\n", cfg.Namespace)
	fmt.Printf("cache_strategy   = %s\n", cfg.CacheStrategy)
	fmt.Printf("cache_cipher     = %s\n", cfg.CacheCipher)
	fmt.Printf("log              = %s\n", cfg.LogTarget)
	fmt.Printf("log_level        = %s\n", cfg.LogLevel)
	fmt.Println()
	fmt.Printf("[crypto]\n")
	fmt.Printf("openssl          = %s\n", cfg.CryptoOpenSSL)
	fmt.Printf("base_dir         = %s\n", cfg.CryptoBaseDir)
	for _, token := range cfg.Tokens {
		fmt.Printf("\n[%s]\n", token.Name)
		fmt.Printf("certificate      = %s\n", token.Certificate)
		fmt.Printf("key              = %s\n", token.Key)
		if token.Passphrase != "" {
			fmt.Printf("passphrase       = ********\n")
		}
	}
	fmt.Println()
	fmt.Printf("[server]\n")
	fmt.Printf("socket_file      = %s\n", cfg.SocketFile)
	fmt.Printf("socket_mode      = %04o\n", uint32(cfg.SocketMode))
	fmt.Printf("max_servers      = %d\n", cfg.MaxServers)
	fmt.Printf("pid_file         = %s\n", cfg.PidFile)
	fmt.Printf("read_timeout     = %d\n", cfg.ReadTimeoutSeconds)
	if cfg.User != "" {
		fmt.Printf("user             = %s\n", cfg.User)
	}
	if cfg.Group != "" {
		fmt.Printf("group            = %s\n", cfg.Group)
	}
	fmt.Println()
	fmt.Printf("[storage]\n")
	fmt.Printf("dir              = %s\n", cfg.StorageDir)
	fmt.Printf("umask            = %04o\n", uint32(cfg.StorageUmask))
	if len(cfg.MemcacheServers) > 0 {
		fmt.Println()
		fmt.Printf("[memcache]\n")
		fmt.Printf("servers          = %s\n", strings.Join(cfg.MemcacheServers, ","))
	}
	fmt.Println()
	fmt.Printf("[access]\n")
	fmt.Printf("read             = %t\n", cfg.AccessRead)
	fmt.Printf("write            = %t\n", cfg.AccessWrite)
	fmt.Println()
	fmt.Printf("[metrics]\n")
	fmt.Printf("enabled          = %t\n", cfg.MetricsEnabled)
	fmt.Printf("port             = %d\n", cfg.MetricsPort)

	return nil
}
