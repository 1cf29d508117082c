package main

import "spendgate/services/spendgated"

func main() {
	spendgated.Main()
}
