package utils

import (
	"errors"
	"fmt"
	"strings"
)

// StrlistFlag parses "a,b,c" into a string slice, e.g. zookeeper hosts.
type StrlistFlag []string

func (s *StrlistFlag) String() string {
	return fmt.Sprint(*s)
}

func (s *StrlistFlag) Set(value string) error {
	if len(*s) > 0 {
		return errors.New("str array flag already set")
	}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*s = append(*s, item)
		}
	}
	return nil
}
