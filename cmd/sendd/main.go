package main

import (
	"log"

	"payconfirm/services/sendd"
)

func main() {
	if err := sendd.Main(); err != nil {
		log.Fatalf("sendd: %v", err)
	}
}
