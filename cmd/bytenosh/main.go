package main

import "github.com/senolkacar/ByteNosh-TFE-2025-sub001/cmd"

func main() {
	cmd.Execute()
}
