// Package runtime handles the infrastructure-level tasks like loading
// configuration and embedded data files.
package runtime

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"strings"

	"github.com/asynctalk/chatroom/errors"
)

//go:embed censored/*
var censoredFolder embed.FS

// CensoredData carries the result of the loading process including metadata
// for logging.
type CensoredData struct {
	Words     []string
	Languages []string
}

// LoadCensoredWords reads the embedded per-language dictionaries (one word
// per line, "fr.txt" -> "fr") into a unique word list.
func LoadCensoredWords() (*CensoredData, error) {
	entries, err := fs.ReadDir(censoredFolder, "censored")
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		lang := strings.TrimSuffix(entry.Name(), ".txt")
		languages = append(languages, lang)

		data, err := censoredFolder.ReadFile("censored/" + entry.Name())
		if err != nil {
			return nil, err
		}

		// A scanner handles both \n and \r\n line endings correctly.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			uniqueWords[strings.ToLower(line)] = struct{}{}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for word := range uniqueWords {
		words = append(words, word)
	}
	return &CensoredData{Words: words, Languages: languages}, nil
}
