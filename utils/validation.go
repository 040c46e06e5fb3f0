package utils

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 255

// Path separators are rejected too: names are single components, the tree
// lives in folder IDs.
var invalidNameChars = []string{"<", ">", ":", "\"", "|", "?", "*", "\x00", "/", "\\"}

// Reserved device names on Windows clients.
var reservedNames = []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

func checkName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s cannot be empty", kind)
	case len(name) > maxNameLength:
		return fmt.Errorf("%s too long (max %d characters)", kind, maxNameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%s contains invalid UTF-8 characters", kind)
	}
	for _, char := range invalidNameChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("%s contains invalid character: %q", kind, char)
		}
	}
	return nil
}

func ValidateFileSize(size, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size of %d bytes", size, maxSize)
	}
	return nil
}

func ValidateFileName(filename string) error {
	if err := checkName("filename", filename); err != nil {
		return err
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, reserved := range reservedNames {
		if strings.EqualFold(base, reserved) {
			return fmt.Errorf("filename uses reserved name: %s", reserved)
		}
	}
	return nil
}

// ValidateFileHeader checks an uploaded part's name and declared size.
func ValidateFileHeader(header *multipart.FileHeader, maxSize int64) error {
	if err := ValidateFileName(header.Filename); err != nil {
		return err
	}
	return ValidateFileSize(header.Size, maxSize)
}

func ValidateFolderName(name string) error {
	if err := checkName("folder name", name); err != nil {
		return err
	}
	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("folder name cannot end with a dot")
	}
	return nil
}
