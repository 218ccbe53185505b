// Command msicfb-inspect opens an MSI/CFB image, walks its logical tree,
// prints each entry and the content digest, and prints the metadata pre-hash
// digest when the image has a MsiDigitalSignatureEx stream.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/aligator/msicfb"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Println("usage: msicfb-inspect <file.msi>")
		os.Exit(1)
	}

	buf, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("read file: %v", err)
	}

	img, root, err := msicfb.Root(buf)
	if err != nil {
		log.Fatalf("parse image: %v", err)
	}

	tree, err := msicfb.New(buf)
	if err != nil {
		log.Fatalf("open as filesystem: %v", err)
	}

	if err := afero.Walk(tree, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		fmt.Printf("%-40s dir=%-5v size=%-8d mtime=%s\n", path, info.IsDir(), info.Size(), info.ModTime())
		return nil
	}); err != nil {
		log.Fatalf("walk: %v", err)
	}

	contentDigest, err := msicfb.ContentDigest(img, root, sha256.New())
	if err != nil {
		log.Fatalf("content hash: %v", err)
	}
	fmt.Println("\ncontent hash (sha256):", hex.EncodeToString(contentDigest))

	_, ex := msicfb.FindSignatures(root)
	if ex != nil {
		metadataDigest, err := msicfb.MetadataDigest(root, sha256.New())
		if err != nil {
			log.Fatalf("metadata pre-hash: %v", err)
		}
		fmt.Println("metadata pre-hash (sha256):", hex.EncodeToString(metadataDigest))
	}
}
