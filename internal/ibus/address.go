package ibus

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoAddress = errors.New("ibus daemon address not found")

// Address returns the private bus address of the running ibus-daemon.
func Address() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = ""
	}
	return resolveAddress(os.Getenv, configDir)
}

// resolveAddress prefers IBUS_ADDRESS and otherwise reads the newest address
// file ibus-daemon wrote under <config>/ibus/bus.
func resolveAddress(getenv func(string) string, configDir string) (string, error) {
	if addr := strings.TrimSpace(getenv("IBUS_ADDRESS")); addr != "" {
		return addr, nil
	}
	if configDir == "" {
		return "", ErrNoAddress
	}

	dir := filepath.Join(configDir, "ibus", "bus")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ErrNoAddress
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = filepath.Join(dir, entry.Name())
			newestMod = mod
		}
	}
	if newest == "" {
		return "", ErrNoAddress
	}
	return readAddressFile(newest)
}

func readAddressFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "IBUS_ADDRESS="); ok && value != "" {
			return value, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrNoAddress
}
