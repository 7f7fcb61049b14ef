// Package reconcile computes the bidirectional sync plan: given the
// client's file inventory and the server's current inventory, it decides
// per path which side wins and produces the disjoint pull and push sets.
package reconcile
